package shared

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrPortInUse is returned when a local port cannot be bound
var ErrPortInUse = errors.New("local port already in use")

// CopyBidirectional copies between two connections until either side closes,
// then closes both. recordBytes may be nil.
func CopyBidirectional(a, b net.Conn, recordBytes func(int64)) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		copyWithBuffer(a, b, OptimizedBufferSize, recordBytes)
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		copyWithBuffer(b, a, OptimizedBufferSize, recordBytes)
	}()

	// Wait for either direction to complete
	<-done

	// Close both connections to stop the other direction
	a.Close()
	b.Close()

	<-done
}

// copyWithBuffer copies src to dst with a fixed buffer, reporting written bytes
func copyWithBuffer(dst io.Writer, src io.Reader, bufferSize int, recordBytes func(int64)) (written int64, err error) {
	buf := make([]byte, bufferSize)
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if recordBytes != nil && nw > 0 {
				recordBytes(int64(nw))
			}
			if ew != nil {
				err = ew
				break
			}
			if nr != nw {
				err = io.ErrShortWrite
				break
			}
		}
		if er != nil {
			if er != io.EOF {
				err = er
			}
			break
		}
	}
	return written, err
}
