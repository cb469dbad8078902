// Package kpanic implements spec §7's Fatal error category: double
// fault, machine check, allocation failure on a system-critical path,
// and kernel_main re-entry are all caught by a single panic handler that
// disables interrupts, prints a boxed diagnostic banner, and halts the
// CPU forever. This is the one place in the kernel that is allowed to
// never return, mirroring the reference's own panic handler.
package kpanic

import (
	"fmt"
	"io"

	"github.com/cottonos/kernel/internal/cpu"
)

// Banner formats the boxed panic banner spec §7 describes: file:line and
// the panic message, framed in a fixed-width box. It is separated from
// Fatal so tests can check the rendered text without also exercising the
// halt-forever loop.
func Banner(file string, line int, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	loc := fmt.Sprintf("%s:%d", file, line)
	width := len(msg)
	if len(loc) > width {
		width = len(loc)
	}
	width += 4
	bar := "+" + repeat('-', width-2) + "+"
	return fmt.Sprintf("%s\n| %-*s |\n| %-*s |\n%s\n", bar, width-4, loc, width-4, msg, bar)
}

func repeat(b byte, n int) string {
	if n < 0 {
		n = 0
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return string(buf)
}

// Fatal is the panic handler itself: it disables interrupts on bus (a
// no-op if bus is nil, e.g. a panic raised before the bus exists),
// prints the banner to out, and halts forever. Per spec §7 this never
// returns control to its caller.
func Fatal(bus *cpu.Bus, out io.Writer, file string, line int, format string, args ...interface{}) {
	if bus != nil {
		bus.DisableInterrupts()
	}
	if out != nil {
		io.WriteString(out, Banner(file, line, format, args...))
	}
	for {
		if bus != nil {
			bus.Halt()
		} else {
			select {}
		}
	}
}
