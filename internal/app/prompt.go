package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// lines は入力を1行ずつ返す。コマンド間で共有するため App ごとに1つだけ作る。
func (a *App) lines() *bufio.Scanner {
	if a.scanner == nil {
		a.scanner = bufio.NewScanner(a.streams.In)
	}
	return a.scanner
}

// ask はラベルを表示して1行読み取る。入力が尽きた場合は io.ErrUnexpectedEOF を返す。
func (a *App) ask(label string) (string, error) {
	a.printf("%s", label)
	sc := a.lines()
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(sc.Text()), nil
}

// askIfEmpty は値が空の場合だけ入力を求める。
func (a *App) askIfEmpty(value, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return a.ask(label)
}

// confirm は y/N の確認を求める。
func (a *App) confirm(question string) (bool, error) {
	answer, err := a.ask(fmt.Sprintf("%s [y/N]: ", question))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
