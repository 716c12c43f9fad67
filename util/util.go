package util

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Debug is the highest DPrintf level that is logged.
var Debug uint64 = 0

var logger atomic.Pointer[logrus.Entry]

func init() {
	logger.Store(logrus.NewEntry(logrus.StandardLogger()))
}

// SetLogger routes DPrintf output to l.
func SetLogger(l *logrus.Entry) {
	logger.Store(l)
}

// DPrintf logs at debug severity when level is at most Debug.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		logger.Load().WithField("level", level).Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows returns true if the sum of its arguments overflows
func SumOverflows(n uint64, m uint64) bool {
	return n+m < n
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
