//go:build !debug

// Package debug provides assertions and verbosity toggles that compile
// away entirely in non-debug builds.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "sync"

// Enabled is false in release builds; every call below is a cheap no-op
// that the compiler inlines away.
const Enabled = false

func Assert(bool)                    {}
func Assertf(bool, string, ...interface{}) {}
func AssertNoErr(error)               {}
func AssertMsg(bool, string)          {}
func Errorln(...interface{})          {}
func Errorf(string, ...interface{})   {}
func Infof(string, ...interface{})    {}
func Func(f func())                   {}
func NewExpvar(string)                {}
func SetExpvar(string, string, int64) {}
func AssertMutexLocked(*sync.Mutex)   {}
func AssertRWMutexLocked(*sync.RWMutex) {}
