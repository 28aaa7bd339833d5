package a5init

// uncompressA5World decodes the %A5Init RLE stream from src, writing the
// decompressed A5-world starting at memory[dstStart:]. Mirrors
// A5InitLoader::uncompressA5World. Returns an error if the stream or a
// decoded destination offset would run past the end of memory.
func uncompressA5World(memory []byte, dstStart int, src *cursor) error {
	dst := dstStart

	for {
		loops := uint32(1)
		b0, err := src.byte()
		if err != nil {
			return err
		}
		b := uint32(b0)
		size := b & 0x0F
		offset := b & 0xF0

		if size == 0 {
			size, err = readRunLength(src, &loops)
			if err != nil {
				return err
			}
			if size == 0 {
				return nil
			}
		} else {
			size += size
		}

		if offset == 0 {
			offset, err = readRunLength(src, &loops)
			if err != nil {
				return err
			}
		} else {
			offset >>= 3
		}

		for {
			dst += int(offset)
			chunk, err := src.bytes(int(size))
			if err != nil {
				return err
			}
			if dst < 0 || dst+len(chunk) > len(memory) {
				return ErrDecoder
			}
			copy(memory[dst:], chunk)
			dst += int(size)
			loops--
			if loops == 0 {
				break
			}
		}
	}
}
