package main

import (
	"fmt"
	"os"
	"runtime"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var useColors = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		useColors = false
		return
	}
	if runtime.GOOS == "windows" && os.Getenv("WT_SESSION") == "" && os.Getenv("TERM") == "" {
		useColors = false
	}
}

func style(c, text string) string {
	if !useColors {
		return text
	}
	return c + text + colorReset
}

func bold(text string) string    { return style(colorBold, text) }
func dim(text string) string     { return style(colorDim, text) }
func yellow(text string) string  { return style(colorYellow, text) }
func cyan(text string) string    { return style(colorCyan, text) }
func success(text string) string { return style(colorGreen+colorBold, text) }
func fail(text string) string    { return style(colorRed+colorBold, text) }

// [1/3]
func printStep(num, total int, text string) {
	fmt.Printf("  %s%d/%d%s %s", dim("["), num, total, dim("]"), text)
}

func printOK()     { fmt.Println(success("OK")) }
func printFailed() { fmt.Println(fail("FAILED")) }

func printField(label, value string) {
	fmt.Printf("  %s %s\n", dim(label), cyan(value))
}
