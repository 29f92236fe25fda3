// Package constituency maps colloquial electoral district names onto the
// canonical names used by the open-data API.
//
// Users write districts in many ways: 台北市第七選區, 臺北市第7選區,
// 台北第7選區, 北松山信義. The API only matches its own spelling,
// 臺北市第7選舉區. [Normalizer.Normalize] resolves an input in three steps:
//
//  1. Alias table lookup after folding (台→臺, full-width digits to ASCII,
//     separators removed).
//  2. Structural parsing of "<city>第<n>選(舉)區" with Chinese or Arabic
//     numerals, validated against the seat count of each city or county.
//  3. Jaro-Winkler similarity against every canonical name and alias,
//     accepted above a threshold (default 0.85).
package constituency

import (
	"slices"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/width"
)

const defaultFuzzyThreshold = 0.85

// Party-list and indigenous seats.
const (
	AtLarge            = "全國不分區"
	LowlandIndigenous  = "平地原住民"
	HighlandIndigenous = "山地原住民"
)

// district describes one city or county and its number of district seats.
type district struct {
	name  string
	short string
	seats int
}

// districts lists the 73 district seats of the 11th term.
var districts = []district{
	{"臺北市", "臺北", 8},
	{"新北市", "新北", 12},
	{"桃園市", "桃園", 6},
	{"臺中市", "臺中", 8},
	{"臺南市", "臺南", 6},
	{"高雄市", "高雄", 8},
	{"基隆市", "基隆", 1},
	{"新竹市", "", 1},
	{"新竹縣", "", 2},
	{"苗栗縣", "苗栗", 2},
	{"彰化縣", "彰化", 4},
	{"南投縣", "南投", 2},
	{"雲林縣", "雲林", 2},
	{"嘉義市", "", 1},
	{"嘉義縣", "", 2},
	{"屏東縣", "屏東", 2},
	{"宜蘭縣", "宜蘭", 1},
	{"花蓮縣", "花蓮", 1},
	{"臺東縣", "臺東", 1},
	{"澎湖縣", "澎湖", 1},
	{"金門縣", "金門", 1},
	{"連江縣", "連江", 1},
}

// aliases maps folded area names to canonical names.
var aliases = map[string]string{
	"北松山信義":    "臺北市第7選舉區",
	"信義北松山":    "臺北市第7選舉區",
	"臺北市北松山信義": "臺北市第7選舉區",
	"馬祖":       "連江縣選舉區",
	"不分區":      AtLarge,
	"全國不分區":    AtLarge,
	"平地原住民":    LowlandIndigenous,
	"平原":       LowlandIndigenous,
	"山地原住民":    HighlandIndigenous,
	"山原":       HighlandIndigenous,
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the similarity
// fallback. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(n *Normalizer) { n.fuzzyThreshold = threshold }
}

// WithAlias adds an extra alias. The key is folded the same way as input.
func WithAlias(alias, canonical string) Option {
	return func(n *Normalizer) { n.aliases[fold(alias)] = canonical }
}

// Normalizer resolves district names. It is read-only after construction and
// safe for concurrent use.
type Normalizer struct {
	fuzzyThreshold float64
	aliases        map[string]string
	canonical      []string
}

// New returns a [Normalizer] configured with opts.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		fuzzyThreshold: defaultFuzzyThreshold,
		aliases:        make(map[string]string, len(aliases)),
	}
	for k, v := range aliases {
		n.aliases[k] = v
	}
	for _, o := range opts {
		o(n)
	}
	n.canonical = All()
	return n
}

// All returns every canonical constituency name, districts first.
func All() []string {
	var out []string
	for _, d := range districts {
		if d.seats == 1 {
			out = append(out, d.name+"選舉區")
			continue
		}
		for i := 1; i <= d.seats; i++ {
			out = append(out, d.name+"第"+strconv.Itoa(i)+"選舉區")
		}
	}
	return append(out, AtLarge, LowlandIndigenous, HighlandIndigenous)
}

// Normalize returns the canonical name for input and whether it was
// resolved. When ok is false the caller should search with the folded input.
func (n *Normalizer) Normalize(input string) (name string, ok bool) {
	s := fold(input)
	if s == "" {
		return "", false
	}
	if c, found := n.aliases[s]; found {
		return c, true
	}
	if slices.Contains(n.canonical, s) {
		return s, true
	}
	if c, city, found := parse(s); found {
		return c, true
	} else if city {
		// A known city with an impossible district number must not be
		// fuzzily snapped to a neighbouring district.
		return s, false
	}
	if c, score := n.closest(s); score >= n.fuzzyThreshold {
		return c, true
	}
	return s, false
}

// closest returns the canonical name whose spelling, or one of whose
// aliases, is most similar to s.
func (n *Normalizer) closest(s string) (string, float64) {
	var (
		best      string
		bestScore float64
	)
	consider := func(candidate, canonical string) {
		if score := matchr.JaroWinkler(s, candidate, false); score > bestScore {
			best, bestScore = canonical, score
		}
	}
	for _, c := range n.canonical {
		consider(c, c)
	}
	for a, c := range n.aliases {
		consider(a, c)
	}
	return best, bestScore
}

// parse recognises "<city>[第]<n>[選舉區|選區|區]". city reports whether s
// starts with a known city or county.
func parse(s string) (name string, city, ok bool) {
	for _, d := range districts {
		rest, found := cutCity(s, d)
		if !found {
			continue
		}
		rest = strings.TrimPrefix(rest, "第")
		for _, suffix := range []string{"選舉區", "選區", "區"} {
			if r, ok := strings.CutSuffix(rest, suffix); ok {
				rest = r
				break
			}
		}
		if rest == "" {
			if d.seats == 1 {
				return d.name + "選舉區", true, true
			}
			return "", true, false
		}
		num, ok := parseNumeral(rest)
		if !ok || num < 1 || num > d.seats {
			return "", true, false
		}
		if d.seats == 1 {
			return d.name + "選舉區", true, true
		}
		return d.name + "第" + strconv.Itoa(num) + "選舉區", true, true
	}
	return "", false, false
}

func cutCity(s string, d district) (string, bool) {
	if rest, ok := strings.CutPrefix(s, d.name); ok {
		return rest, true
	}
	if d.short == "" {
		return "", false
	}
	return strings.CutPrefix(s, d.short)
}

var chineseDigits = map[rune]int{
	'一': 1, '二': 2, '兩': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9,
}

// parseNumeral accepts Arabic numerals and Chinese numerals up to 九十九.
func parseNumeral(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	runes := []rune(s)
	switch len(runes) {
	case 1:
		if runes[0] == '十' {
			return 10, true
		}
		n, ok := chineseDigits[runes[0]]
		return n, ok
	case 2:
		if runes[0] == '十' {
			n, ok := chineseDigits[runes[1]]
			return 10 + n, ok
		}
		if runes[1] == '十' {
			n, ok := chineseDigits[runes[0]]
			return n * 10, ok
		}
	case 3:
		tens, ok1 := chineseDigits[runes[0]]
		ones, ok2 := chineseDigits[runes[2]]
		if runes[1] == '十' && ok1 && ok2 {
			return tens*10 + ones, true
		}
	}
	return 0, false
}

// fold canonicalises spelling variants so that equivalent inputs compare
// equal: 台 becomes 臺, full-width digits become ASCII, separators and
// whitespace are dropped.
func fold(s string) string {
	s = width.Narrow.String(s)
	s = strings.ReplaceAll(s, "台", "臺")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '‧', '·', '・', '、', ',', '，', '.', '。', '-', '_':
			return -1
		}
		return r
	}, s)
}
