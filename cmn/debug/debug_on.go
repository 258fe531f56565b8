//go:build debug

// Package debug provides assertions and verbosity toggles that compile
// away entirely in non-debug builds.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"bytes"
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Enabled is true in debug builds; every Assert* call is live.
const Enabled = true

var (
	xmodules map[string]*expvar.Map

	smodules = map[string]bool{
		"store": true, "blob": true, "search": true, "index": true,
		"queue": true, "task": true, "push": true, "broadcast": true,
		"batch": true, "changelog": true,
	}
)

func init() {
	xmodules = make(map[string]*expvar.Map, 4)
	loadLogLevel()
}

func Assert(cond bool) {
	if !cond {
		_panic()
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func NewExpvar(smodule string) {
	if !smodules[smodule] {
		fatalMsg("invalid smodule %q - expecting %+v", smodule, smodules)
	}
	xmodules[smodule] = expvar.NewMap("stwt." + smodule)
}

func SetExpvar(smodule, name string, val int64) {
	m := xmodules[smodule]
	v, ok := m.Get(name).(*expvar.Int)
	if !ok {
		v = new(expvar.Int)
		m.Set(name, v)
	}
	v.Set(val)
}

func Errorln(a ...interface{}) {
	glog.ErrorDepth(1, append([]interface{}{"[DEBUG] "}, a...)...)
}

func Errorf(f string, a ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Infof(f string, a ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

// Func runs f only in debug builds; use for checks too expensive for release.
func Func(f func()) { f() }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buf := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buf, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok || !strings.Contains(file, "stalwartgo") {
			break
		}
		if buf.Len() > len(msg) {
			buf.WriteString(" <- ")
		}
		fmt.Fprintf(buf, "%s:%d", filepath.Base(file), line)
	}
	glog.Errorf("%s", buf.Bytes())
	glog.Flush()
	panic(msg)
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "Mutex not Locked")
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("w").FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "RWMutex not Locked")
}

// loadLogLevel sets per-package debug verbosity from an environment
// variable, e.g. STWT_DEBUG=task=4,queue=3 (same spirit as GODEBUG).
func loadLogLevel() {
	var opts []string
	if val := os.Getenv("STWT_DEBUG"); val != "" {
		opts = strings.Split(val, ",")
	}
	for _, ele := range opts {
		pair := strings.Split(ele, "=")
		if len(pair) != 2 {
			fatalMsg("failed to parse module=level element: %q", ele)
		}
		module, level := pair[0], pair[1]
		if !smodules[module] {
			fatalMsg("unknown module: %s", module)
		}
		logLvl, err := strconv.Atoi(level)
		if err != nil || logLvl <= 0 {
			fatalMsg("invalid verbosity level=%s, err: %v", level, err)
		}
		_ = glog.Level(logLvl)
	}
}

func fatalMsg(f string, v ...interface{}) {
	s := fmt.Sprintf(f, v...)
	fmt.Fprintln(os.Stderr, s)
	os.Exit(1)
}
