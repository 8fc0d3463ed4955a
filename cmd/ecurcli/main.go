// Command ecurcli is a register-access tool for an ECUR-protocol
// FPGA/firmware target: single register reads/writes, EVR (indexed and
// indirect) register access, a self-test, and a power-cycle helper.
// Grounded on original_source/sw/ecurcli.c.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/paulscherrerinstitute/lan9254-rtl-esc/ecur"
)

const (
	hbibas = uint32(7) << 19
	escbas = uint32(6) << 19
	locbas = uint32(3) << 19
	evrbas = uint32(0) << 19
	cfgbas = uint32(0)<<19 | uint32(1)<<17
)

// EVR indexed/indirect register offsets, shift=1 regardless of -w.
const (
	iregA = 0xf<<1 | 0
	iregD = 0xf<<1 | 1
)

func main() {
	var verbosity int

	app := &cli.App{
		Name:  "ecurcli",
		Usage: "remote register access for an ECUR-protocol target",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "a",
				Usage:   "target IP address (dot notation)",
				EnvVars: []string{"ECUR_TARGET_IP"},
				Value:   "10.10.10.20",
			},
			&cli.BoolFlag{Name: "t", Usage: "run self-test (connection to target required)"},
			&cli.BoolFlag{Name: "s", Usage: "print target network statistics"},
			&cli.BoolFlag{Name: "v", Usage: "increase verbosity", Count: &verbosity},
			&cli.BoolFlag{Name: "V", Usage: "show target firmware version"},
			&cli.BoolFlag{Name: "P", Usage: "power-cycle the target"},
			&cli.StringFlag{Name: "b", Usage: "base address added to -m/-r offsets"},
			&cli.IntFlag{Name: "w", Usage: "access width for -m (1, 2 or 4)", Value: 4},
			&cli.StringSliceFlag{Name: "e", Usage: "EVR register access: <reg>[=<val>]"},
			&cli.StringSliceFlag{Name: "i", Usage: "EVR indirect register access: <ireg>[=<val>]"},
			&cli.StringSliceFlag{Name: "r", Usage: "register access: [<range>@]<offset>[=<val>]"},
			&cli.StringSliceFlag{Name: "m", Usage: "byte-addressed register access: <addr>[=<val>]"},
		},
		Action: func(c *cli.Context) error { return run(c, verbosity) },
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context, verbosity int) error {
	width := c.Int("w")
	switch width {
	case 1, 2, 4:
	default:
		return fmt.Errorf("-w argument must be 1, 2 or 4")
	}

	target := fmt.Sprintf("%s:4096", c.String("a"))
	s, err := ecur.Open(context.Background(), target, ecur.WithVerbosity(verbosity))
	if err != nil {
		return fmt.Errorf("unable to connect to firmware at %s: %w", target, err)
	}
	defer s.Close()

	testFailed := false
	if c.Bool("t") {
		testFailed = selfTest(s) != 0
	}

	if c.Bool("P") {
		if getYesNo("About to power-cycle the target; proceed") {
			fmt.Println("<connection might be lost; ignore errors>")
			_, _ = s.Write16(locbas+0x8, []uint16{0xdead})
		}
		return nil
	}

	if c.Bool("s") {
		printNetStats(s)
	}

	if c.Bool("V") {
		printVersion(s)
	}

	base, err := parseUint32(c.String("b"))
	if err != nil {
		return fmt.Errorf("invalid -b base: %w", err)
	}

	if err := applyRegFlags(s, c, base, int(width)); err != nil {
		return err
	}

	if testFailed {
		return cli.Exit("", 1)
	}
	return nil
}

func printVersion(s *ecur.Session) {
	var val [1]uint32
	if _, err := s.Read32(cfgbas+0x10, val[:]); err != nil {
		fmt.Fprintln(os.Stderr, "ecurRead32() failed:", err)
		return
	}
	fmt.Printf("Target Firmware Git Hash: 0x%08x\n", val[0])
}

// printNetStats dumps the raw network-statistics word array. Label
// formatting is deliberately not reproduced here (spec.md §1's
// Non-goals).
func printNetStats(s *ecur.Session) {
	stat := make([]uint32, 22)
	got, err := s.Read32(escbas, stat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ecurRead32() for statistics failed:", err)
		return
	}
	for i := 0; i < got; i++ {
		fmt.Printf("stat[%02d]: %5d\n", i, stat[i])
	}
}

func getYesNo(msg string) bool {
	fmt.Printf("%s y/[n]? ", msg)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "Y")
}

func parseUint32(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// shiftFor mirrors ecurcli.c's `reg()`: -m addresses are byte-addressed
// (shift 0); -e/-i/-r addresses are register-indexed, shifted by the
// access width's log2.
func shiftFor(width int, byteAddressed bool) uint {
	if byteAddressed {
		return 0
	}
	switch width {
	case 1:
		return 0
	case 2:
		return 1
	default:
		return 2
	}
}

// applyRegFlags applies -e, -i, -r, -m in that grouping, each group in
// the order given on the command line. Unlike the C original's single
// getopt pass, cross-flag interleaving between the four letters is not
// preserved — a reasonable simplification for this external CLI.
// -e, -i and -r always use 32-bit accesses; width (-w) applies to -m.
func applyRegFlags(s *ecur.Session, c *cli.Context, base uint32, width int) error {
	for _, spec := range c.StringSlice("e") {
		if err := applyRegFlag(s, stripEVRRange(spec), evrbas, false, shiftFor(4, false), 4); err != nil {
			return err
		}
	}
	for _, spec := range c.StringSlice("i") {
		if err := applyRegFlag(s, stripEVRRange(spec), evrbas, true, shiftFor(4, false), 4); err != nil {
			return err
		}
	}
	for _, spec := range c.StringSlice("r") {
		if err := applyRegFlag(s, spec, base, false, shiftFor(4, false), 4); err != nil {
			return err
		}
	}
	for _, spec := range c.StringSlice("m") {
		if err := applyRegFlag(s, spec, base, false, shiftFor(width, true), width); err != nil {
			return err
		}
	}
	return nil
}

// stripEVRRange drops a "<range>@" prefix from an -e/-i spec, warning
// that the range selector has no effect there: ecurcli.c's main()
// always forces EVR accesses to evrbas, ignoring any '@' the user gave.
func stripEVRRange(spec string) string {
	if at := strings.IndexByte(spec, '@'); at >= 0 {
		fmt.Fprintln(os.Stderr, "Warning: range ('@') ignored for EVR access!")
		return spec[at+1:]
	}
	return spec
}

// applyRegFlag parses one "[<range>@]<reg>[=<val>]" spec and performs
// the resulting register access. Grounded on ecurcli.c's reg().
func applyRegFlag(s *ecur.Session, spec string, base uint32, indirect bool, shift uint, width int) error {
	op := spec
	if at := strings.IndexByte(spec, '@'); at >= 0 {
		rangeVal, err := strconv.ParseUint(spec[:at], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid range: %w", err)
		}
		if rangeVal >= 8 {
			return fmt.Errorf("invalid range (must be 0..7)")
		}
		base = uint32(rangeVal) << 19
		op = spec[at+1:]
	}

	regStr, valStr, haveVal := op, "", false
	if eq := strings.IndexByte(op, '='); eq >= 0 {
		regStr, valStr, haveVal = op[:eq], op[eq+1:], true
	}
	regNum, err := strconv.ParseUint(strings.TrimSpace(regStr), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid register: %w", err)
	}

	var val uint32
	if haveVal {
		v, err := strconv.ParseUint(strings.TrimSpace(valStr), 0, 32)
		if err != nil {
			return fmt.Errorf("invalid register value: %w", err)
		}
		val = uint32(v)
	}

	if indirect {
		width = 4
		addr := base | uint32(iregA)<<shift
		if err := doReg(s, addr, uint32(regNum), true, width); err != nil {
			return err
		}
		return doReg(s, base|uint32(iregD)<<shift, val, haveVal, width)
	}
	addr := base | uint32(regNum)<<shift
	return doReg(s, addr, val, haveVal, width)
}

// doReg performs one aligned register access, printing its result the
// way ecurcli.c's doReg() does.
func doReg(s *ecur.Session, addr, val uint32, write bool, width int) error {
	if addr&uint32(width-1) != 0 {
		return fmt.Errorf("address 0x%x not aligned to width %d", addr, width)
	}
	if write {
		fmt.Printf("Writing 0x%08x to 0x%08x\n", val, addr)
		var err error
		switch width {
		case 1:
			_, err = s.Write8(addr, []uint8{uint8(val)})
		case 2:
			_, err = s.Write16(addr, []uint16{uint16(val)})
		default:
			_, err = s.Write32(addr, []uint32{val})
		}
		if err != nil {
			return fmt.Errorf("ecurWrite%d() failed (address 0x%08x): %w", width*8, addr, err)
		}
		return nil
	}

	var v uint32
	var n int
	var err error
	switch width {
	case 1:
		d := make([]uint8, 1)
		n, err = s.Read8(addr, d)
		v = uint32(d[0])
	case 2:
		d := make([]uint16, 1)
		n, err = s.Read16(addr, d)
		v = uint32(d[0])
	default:
		d := make([]uint32, 1)
		n, err = s.Read32(addr, d)
		v = d[0]
	}
	if err != nil || n < 1 {
		return fmt.Errorf("ecurRead%d() failed (address 0x%08x): %w", width*8, addr, err)
	}
	fmt.Printf("0x%08x: 0x%08x (%d)\n", addr, v, int32(v))
	return nil
}

// selfTest exercises the readback-known-constant and mixed-width-batch
// scenarios against a conforming target, grounded on ecurcli.c's
// ecurTest(). Returns the number of failed checks.
func selfTest(s *ecur.Session) int {
	fmt.Printf("ecur self-test run %s\n", uuid.New())
	failed := 0

	a := uint32(0x3064) | hbibas

	var d32 [1]uint32
	if _, err := s.Read32(a, d32[:]); err != nil {
		fmt.Fprintln(os.Stderr, "ecurRead32() failed:", err)
		failed++
	} else {
		fmt.Printf("Read result: 0x%08x\n", d32[0])
	}
	if d32[0] != 0x87654321 {
		fmt.Fprintln(os.Stderr, "32-bit read FAILED")
		failed++
	}

	var d16 [1]uint16
	if _, err := s.Read16(a, d16[:]); err != nil {
		fmt.Fprintln(os.Stderr, "ecurRead16() failed:", err)
		failed++
	} else {
		fmt.Printf("Read result: 0x%04x\n", d16[0])
	}
	if d16[0] != 0x4321 {
		fmt.Fprintln(os.Stderr, "16-bit read (low) FAILED")
		failed++
	}

	if _, err := s.Read16(a+2, d16[:]); err != nil {
		fmt.Fprintln(os.Stderr, "ecurRead16() failed:", err)
		failed++
	} else {
		fmt.Printf("Read result: 0x%04x\n", d16[0])
	}
	if d16[0] != 0x8765 {
		fmt.Fprintln(os.Stderr, "16-bit read (hi) FAILED")
		failed++
	}

	want8 := []uint8{0x21, 0x43, 0x65, 0x87}
	for i, w := range want8 {
		var d8 [1]uint8
		if _, err := s.Read8(a+uint32(i), d8[:]); err != nil {
			fmt.Fprintln(os.Stderr, "ecurRead8() failed:", err)
			failed++
		} else {
			fmt.Printf("Read result: 0x%02x\n", d8[0])
		}
		if d8[0] != w {
			fmt.Fprintf(os.Stderr, "8-bit read [%d] FAILED\n", i)
			failed++
		}
	}

	a = 0xf80 | hbibas
	b := uint8(0x01)
	for i := 0; i < 4; i++ {
		b++
		if err := s.QueueWrite8(a+uint32(i), []uint8{b}); err != nil {
			fmt.Fprintln(os.Stderr, "QueueWrite8() failed:", err)
			failed++
		}
	}
	if err := s.QueueWrite16(a+4, []uint16{0xaabb}); err != nil {
		fmt.Fprintln(os.Stderr, "QueueWrite16() failed:", err)
		failed++
	}
	if err := s.QueueWrite16(a+6, []uint16{0xccdd}); err != nil {
		fmt.Fprintln(os.Stderr, "QueueWrite16() failed:", err)
		failed++
	}
	if err := s.QueueWrite32(a+8, []uint32{0xdeadbeef}); err != nil {
		fmt.Fprintln(os.Stderr, "QueueWrite32() failed:", err)
		failed++
	}

	d32a := make([]uint32, 3)
	if err := s.QueueRead32(a, d32a, func(n int, _ any) {
		if n <= 0 {
			fmt.Println("Error: Read returned nothing")
			return
		}
		for i := 0; i < n; i++ {
			fmt.Printf("Read: 0x%08x\n", d32a[i])
		}
	}, nil); err != nil {
		fmt.Fprintln(os.Stderr, "QueueRead32() failed:", err)
	}

	if _, err := s.Execute(); err != nil {
		fmt.Println("Error: Execute() failed")
		failed++
	}
	if d32a[0] != 0x05040302 {
		fmt.Fprintln(os.Stderr, "8-bit write / 32-bit array readback FAILED")
		failed++
	}
	if d32a[1] != 0xccddaabb {
		fmt.Fprintln(os.Stderr, "16-bit write / 32-bit array readback FAILED")
		failed++
	}
	if d32a[2] != 0xdeadbeef {
		fmt.Fprintln(os.Stderr, "32-bit write / 32-bit array readback FAILED")
		failed++
	}

	if failed == 0 {
		fmt.Println("Test PASSED")
	} else {
		fmt.Fprintf(os.Stderr, "Test FAILED (%d failures)\n", failed)
	}
	return failed
}
