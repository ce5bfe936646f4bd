package utils

import (
	"io"
	"os"
	"sync"
	"unsafe"
)

///////////////////////////////////////////////////////////////////////////////
// Cold-Path Output — Pre-concatenated lines, no fmt
///////////////////////////////////////////////////////////////////////////////

var (
	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

// SetOutput redirects PrintWarning/PrintInfo and returns the previous writer.
// Tests use it to capture diagnostics.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	prev := out
	out = w
	outMu.Unlock()
	return prev
}

// PrintWarning writes msg verbatim to the diagnostic writer (stderr by
// default) without allocating. The caller supplies the trailing newline.
func PrintWarning(msg string) {
	if len(msg) == 0 {
		return
	}
	outMu.Lock()
	_, _ = out.Write(S2b(msg))
	outMu.Unlock()
}

// PrintInfo writes msg followed by a newline to the diagnostic writer.
func PrintInfo(msg string) {
	PrintWarning(msg + "\n")
}

///////////////////////////////////////////////////////////////////////////////
// Conversion Utilities — Zero-Alloc Casts
///////////////////////////////////////////////////////////////////////////////

// S2b exposes the bytes of s without copying. The result must not be written.
//
//go:nosplit
//go:inline
func S2b(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

///////////////////////////////////////////////////////////////////////////////
// Integer Formatting — Log lines and trace timestamps
///////////////////////////////////////////////////////////////////////////////

// Itoa formats a signed integer in base 10.
func Itoa(n int) string {
	if n < 0 {
		return "-" + Utoa(uint64(-n))
	}
	return Utoa(uint64(n))
}

// Utoa formats an unsigned integer in base 10.
func Utoa(n uint64) string {
	var buf [20]byte
	return string(AppendUint(buf[:0], n))
}

// AppendUint appends the decimal form of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}

// AppendMicros renders a nanosecond count as microseconds with exactly three
// fractional digits: 1234567 → "1234.567", 5 → "0.005".
func AppendMicros(dst []byte, ns uint64) []byte {
	dst = AppendUint(dst, ns/1000)
	rem := ns % 1000
	return append(dst, '.', byte('0'+rem/100), byte('0'+rem/10%10), byte('0'+rem%10))
}
