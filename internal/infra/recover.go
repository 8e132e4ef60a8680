package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it in a fresh goroutine after a
// panic, at most maxPanics times. A negative limit restarts forever.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.WithFields(log.Fields{
			"job":      id,
			"panic":    fmt.Sprint(r),
			"location": panicLocation(),
		}).Error("recovered from panic")

		if maxPanics == 0 {
			log.WithField("job", id).Fatal("panic limit reached, exiting")
		}
		if maxPanics > 0 {
			maxPanics--
		}
		log.WithFields(log.Fields{
			"job":         id,
			"panics_left": maxPanics,
		}).Debug("restarting job")
		go GoRecoverable(maxPanics, id, f)
	}()
	f()
}

// panicLocation walks past the runtime frames to the first frame of
// the panicking code.
func panicLocation() string {
	var pc [16]uintptr
	n := runtime.Callers(3, pc[:])

	var name, file string
	var line int
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return fmt.Sprintf("pc:%x", pc)
}
