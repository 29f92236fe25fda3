package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// backend answers one question at a time, writing the reply to out as it
// arrives.
type backend interface {
	ask(ctx context.Context, question string, out io.Writer) error
	clear(ctx context.Context) error
}

// Display strings.
const (
	banner      = "LyBot 立法院研究助理（輸入 /clear 清除對話，/exit 離開）"
	prompt      = "> "
	msgCleared  = "已清除對話。"
	msgGoodbye  = "再見！"
	msgErrorFmt = "錯誤：%v\n"
)

// repl reads questions from in until EOF, /exit or ctx ends.
func repl(ctx context.Context, b backend, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, banner)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, prompt)
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			fmt.Fprintln(out, msgGoodbye)
			return nil
		case "/clear":
			if err := b.clear(ctx); err != nil {
				fmt.Fprintf(out, msgErrorFmt, err)
				continue
			}
			fmt.Fprintln(out, msgCleared)
			continue
		}

		err := b.ask(ctx, line, out)
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			fmt.Fprintf(out, msgErrorFmt, err)
		}
	}
}

// toolLine formats a tool call announcement.
func toolLine(name, args string) string {
	if len([]rune(args)) > 120 {
		args = string([]rune(args)[:117]) + "..."
	}
	return fmt.Sprintf("\n🔧 呼叫工具 %s %s\n", name, args)
}
