package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// ANSI color codes.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	green = "\033[32m"
	dim   = "\033[2m"
)

// PrintStartupInfo prints a one-line role/version/address banner to
// stderr when a coordinator or worker process starts. Colors are used
// only when stderr is a TTY.
func PrintStartupInfo(role, ver, detail string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if color {
		fmt.Fprintf(os.Stderr, "%s%scoordhub%s %s%s%s  %sversion%s %s   %s\n\n",
			bold, green, reset, dim, role, reset, dim, reset, ver, detail)
	} else {
		fmt.Fprintf(os.Stderr, "coordhub %s  version %s   %s\n\n", role, ver, detail)
	}
}

// PrintInviteQRCode prints an invite URL and, when stderr is a TTY, a
// scannable QR code for it -- the fastest way to hand a worker-spawn
// invite to another terminal or device without copy-pasting a long
// local:// or data: URL.
func PrintInviteQRCode(inviteURL string) {
	isTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	if isTTY {
		fmt.Fprintf(os.Stderr, "  %s%s➜%s  %s%s%s\n\n", bold, green, reset, bold, inviteURL, reset)
	} else {
		fmt.Fprintf(os.Stderr, "  ➜  %s\n\n", inviteURL)
	}

	if !isTTY {
		return
	}
	qrterminal.GenerateWithConfig(inviteURL, qrterminal.Config{
		Level:          qrterminal.L,
		Writer:         os.Stderr,
		QuietZone:      1,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
	})
	fmt.Fprintln(os.Stderr)
}
