package gazettes

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Votes is the result of parsing the text of a gazette for roll-call votes.
type Votes struct {
	Bill string `json:"bill,omitempty"`

	// Summary holds the counts keyed 贊成, 反對, 棄權 and, when the gazette
	// reports it, 出席. Empty when no tally was found.
	Summary map[string]int `json:"voting_summary"`

	// Individual maps a legislator's name to 贊成, 反對 or 棄權.
	Individual map[string]string `json:"individual_votes"`

	Sections []string `json:"raw_sections"`
}

// Found reports whether any tally or individual vote was parsed.
func (v Votes) Found() bool { return len(v.Summary) > 0 || len(v.Individual) > 0 }

var (
	tallyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`表決結果[:：]\s*贊成\s*(\d+)\s*[票人].*反對\s*(\d+)\s*[票人].*棄權\s*(\d+)\s*[票人]`),
		regexp.MustCompile(`贊成者\s*(\d+)\s*[票人].*反對者\s*(\d+)\s*[票人].*棄權者\s*(\d+)\s*[票人]`),
	}
	attendancePattern = regexp.MustCompile(`出席委員\s*(\d+)\s*人.*贊成者\s*(\d+)\s*人.*反對者\s*(\d+)\s*人`)

	voteHeading = regexp.MustCompile(`(贊成|反對|棄權)(?:者|委員)[:：]?`)
	headCount   = regexp.MustCompile(`^\s*[（(]?\s*(\d+)\s*[人位票][)）]?`)
	nameSplit   = regexp.MustCompile(`[、，,\s]+`)
)

// contextLines is how far above a tally the bill identifier may appear.
const contextLines = 5

var notNames = []string{"表決", "議案", "委員會", "主席"}

// ParseVotes scans gazette text line by line. A vote section starts at a
// line naming bill, or at a tally line, and ends at a line containing
// 表決結果 or before a line mentioning 議案. With an empty bill every tally
// is accepted; otherwise a tally counts only when bill appears within the
// preceding lines.
func ParseVotes(text, bill string) Votes {
	v := Votes{
		Bill:       bill,
		Summary:    map[string]int{},
		Individual: map[string]string{},
		Sections:   []string{},
	}
	lines := strings.Split(text, "\n")
	var (
		open    bool
		current []string
	)
	for i, line := range lines {
		if bill != "" && strings.Contains(line, bill) {
			open = true
			current = []string{line}
			continue
		}
		if tally, ok := matchTally(line); ok {
			open = true
			window := strings.Join(lines[max(0, i-contextLines):i+1], "\n")
			if bill == "" || strings.Contains(window, bill) {
				v.Summary = tally
			}
		}
		if !open {
			continue
		}
		current = append(current, line)
		if strings.Contains(line, "表決結果") || (i+1 < len(lines) && strings.Contains(lines[i+1], "議案")) {
			v.Sections = append(v.Sections, strings.Join(current, "\n"))
			open = false
			current = nil
		}
	}

	counts := parseIndividual(v.Sections, v.Individual)
	if len(v.Summary) == 0 && len(counts) > 0 {
		v.Summary = counts
	}
	return v
}

func matchTally(line string) (map[string]int, bool) {
	for _, re := range tallyPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return map[string]int{"贊成": atoi(m[1]), "反對": atoi(m[2]), "棄權": atoi(m[3])}, true
		}
	}
	if m := attendancePattern.FindStringSubmatch(line); m != nil {
		return map[string]int{"出席": atoi(m[1]), "贊成": atoi(m[2]), "反對": atoi(m[3]), "棄權": 0}, true
	}
	return nil, false
}

// parseIndividual assigns the names following a 贊成者/反對者/棄權者 heading to
// that vote until the next heading. Head counts printed after a heading are
// returned as a fallback tally.
func parseIndividual(sections []string, votes map[string]string) map[string]int {
	counts := map[string]int{}
	for _, section := range sections {
		var kind string
		for _, line := range strings.Split(section, "\n") {
			locs := voteHeading.FindAllStringSubmatchIndex(line, -1)
			if len(locs) == 0 {
				if kind != "" {
					addNames(votes, line, kind)
				}
				continue
			}
			for j, loc := range locs {
				kind = line[loc[2]:loc[3]]
				end := len(line)
				if j+1 < len(locs) {
					end = locs[j+1][0]
				}
				rest := line[loc[1]:end]
				if m := headCount.FindStringSubmatch(rest); m != nil {
					counts[kind] = atoi(m[1])
					rest = strings.TrimLeft(rest[len(m[0]):], ":： ")
				}
				addNames(votes, rest, kind)
			}
		}
	}
	return counts
}

func addNames(votes map[string]string, text, kind string) {
	for _, name := range nameSplit.Split(strings.TrimSpace(text), -1) {
		if isName(name) {
			votes[name] = kind
		}
	}
}

// isName accepts 2 to 4 Han characters that are not procedural words.
func isName(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < 2 || n > 4 {
		return false
	}
	for _, r := range s {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	for _, w := range notNames {
		if strings.Contains(s, w) {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
