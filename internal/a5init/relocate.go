package a5init

import (
	"encoding/binary"
	"fmt"
	"io"
)

// relocateWorld walks the %A5Init relocation stream from src, adding a5 to
// every 32-bit big-endian pointer found at the decoded offsets from
// dstStart, and logs each relocation site to out. Mirrors
// A5InitLoader::relocateWorld. Returns an error if the stream or a decoded
// destination offset would run past the end of memory.
func relocateWorld(memory []byte, a5 uint32, dstStart int, src *cursor, out io.Writer) error {
	dst := dstStart
	var dummy uint32

	for {
		loops := uint32(1)
		b, err := src.byte()
		if err != nil {
			return err
		}
		offset := uint32(b)

		if offset != 0 {
			if offset&0x80 != 0 {
				offset &= 0x7F
				b, err = src.byte()
				if err != nil {
					return err
				}
				offset = offset<<8 | uint32(b)
			}
		} else {
			b, err = src.byte()
			if err != nil {
				return err
			}
			offset = uint32(b)
			if offset == 0 {
				return nil
			}
			if offset&0x80 != 0 {
				for i := 0; i < 3; i++ {
					b, err = src.byte()
					if err != nil {
						return err
					}
					offset = offset<<8 | uint32(b)
				}
			} else {
				loops, err = readRunLength(src, &dummy)
				if err != nil {
					return err
				}
			}
		}

		offset += offset

		for {
			dst += int(offset)
			if dst < 0 || dst+4 > len(memory) {
				return ErrDecoder
			}
			fmt.Fprintf(out, "Relocation at 0x%08X\n", dst)
			v := binary.BigEndian.Uint32(memory[dst:])
			binary.BigEndian.PutUint32(memory[dst:], v+a5)
			loops--
			if loops == 0 {
				break
			}
		}
	}
}
