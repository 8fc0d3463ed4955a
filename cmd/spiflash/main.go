// Command spiflash dumps a range of a target's SPI flash, paged
// through a fixed-size memory-mapped window, to stdout.
// Grounded on original_source/sw/spiFlashRead.c.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/paulscherrerinstitute/lan9254-rtl-esc/ecur"
)

const (
	ldPageSize = 16
	pageSize   = 1 << ldPageSize
	pageMask   = pageSize - 1
	pageReg    = 0x10000

	burstCount = 256
	burstSize  = burstCount * 4
)

func pageNo(addr uint32) uint32 { return addr >> ldPageSize }

func inPage(base, addr uint32) uint32 { return base + addr&pageMask }

func setPage(s *ecur.Session, base, addr uint32) error {
	return s.QueueWrite32(base+pageReg, []uint32{pageNo(addr)})
}

func main() {
	app := &cli.App{
		Name:  "spiflash",
		Usage: "dump a range of a target's SPI flash to stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "a", Usage: "target IP address", Required: true},
			&cli.StringFlag{Name: "m", Usage: "SPI memory start address", Value: "0"},
			&cli.StringFlag{Name: "l", Usage: "SPI memory length", Value: "4"},
			&cli.StringFlag{Name: "b", Usage: "SPI controller base address", Value: "0x080000"},
			&cli.BoolFlag{Name: "v", Usage: "increase verbosity"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Errors were encountered -- '-v' may provide more details:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	addr, err := parseUint32(c.String("m"))
	if err != nil {
		return fmt.Errorf("invalid -m: %w", err)
	}
	length, err := parseUint32(c.String("l"))
	if err != nil {
		return fmt.Errorf("invalid -l: %w", err)
	}
	base, err := parseUint32(c.String("b"))
	if err != nil {
		return fmt.Errorf("invalid -b: %w", err)
	}

	verbosity := 0
	if c.Bool("v") {
		verbosity = 1
	}
	target := fmt.Sprintf("%s:4096", c.String("a"))
	s, err := ecur.Open(context.Background(), target, ecur.WithVerbosity(verbosity))
	if err != nil {
		return fmt.Errorf("unable to connect to firmware at %s: %w", target, err)
	}
	defer s.Close()

	return dump(s, os.Stdout, base, addr, length)
}

// dump streams [addr, addr+length) of the SPI flash window at base to
// w, paging the window register as page boundaries are crossed.
// Mirrors spiFlashRead.c's main(): misaligned head via byte reads,
// page-aligned body via 32-bit bursts, misaligned tail via byte reads.
func dump(s *ecur.Session, w io.Writer, base, addr, length uint32) error {
	thePage := pageNo(addr)
	if err := setPage(s, base, addr); err != nil {
		return err
	}

	headLen := uint32(0)
	for addr&3 != 0 && length > headLen {
		headLen++
		addr++
	}
	addr -= headLen

	head := make([]uint8, headLen)
	if headLen > 0 {
		if err := s.QueueRead8(inPage(base, addr), head, nil, nil); err != nil {
			return err
		}
		addr += headLen
		length -= headLen
		if newPage := pageNo(addr); newPage != thePage {
			thePage = newPage
			if err := setPage(s, base, addr); err != nil {
				return err
			}
		}
	}

	if _, err := s.Execute(); err != nil {
		return err
	}
	if headLen > 0 {
		if _, err := w.Write(head); err != nil {
			return fmt.Errorf("unable to write output data: %w", err)
		}
	}

	tail := length & 3
	length -= tail

	buf := make([]uint32, burstCount)
	for length > 0 {
		n := length
		if n > burstSize {
			n = burstSize
		}
		nextPageAddr := (addr &^ pageMask) + pageSize
		if n > nextPageAddr-addr {
			n = nextPageAddr - addr
		}

		words := buf[:n/4]
		if err := s.QueueRead32(inPage(base, addr), words, nil, nil); err != nil {
			return err
		}
		if _, err := s.Execute(); err != nil {
			return err
		}
		if err := writeWords(w, words); err != nil {
			return err
		}

		addr += n
		length -= n

		if newPage := pageNo(addr); newPage != thePage {
			thePage = newPage
			if err := setPage(s, base, addr); err != nil {
				return err
			}
			if _, err := s.Execute(); err != nil {
				return err
			}
		}
	}

	if tail > 0 {
		tailBuf := make([]uint8, tail)
		if err := s.QueueRead8(inPage(base, addr), tailBuf, nil, nil); err != nil {
			return err
		}
		if _, err := s.Execute(); err != nil {
			return err
		}
		if _, err := w.Write(tailBuf); err != nil {
			return fmt.Errorf("unable to write output data: %w", err)
		}
	}

	return nil
}

// writeWords emits words to w little-endian, byte for byte, so a flash
// dump round-trips regardless of host endianness.
func writeWords(w io.Writer, words []uint32) error {
	buf := make([]byte, len(words)*4)
	for i, word := range words {
		buf[4*i+0] = byte(word)
		buf[4*i+1] = byte(word >> 8)
		buf[4*i+2] = byte(word >> 16)
		buf[4*i+3] = byte(word >> 24)
	}
	_, err := w.Write(buf)
	if err != nil {
		err = fmt.Errorf("unable to write output data: %w", err)
	}
	return err
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
