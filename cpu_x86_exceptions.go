// cpu_x86_exceptions.go - Exception records, fault classes and escalation
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
)

// Exception vectors handled by the delivery machine.
const (
	ExcDivideError       = 0
	ExcDebug             = 1
	ExcNMI               = 2
	ExcBreakpoint        = 3
	ExcOverflow          = 4
	ExcBoundRange        = 5
	ExcInvalidOpcode     = 6
	ExcDeviceNotAvail    = 7
	ExcDoubleFault       = 8
	ExcInvalidTSS        = 10
	ExcSegmentNotPresent = 11
	ExcStackFault        = 12
	ExcGeneralProtection = 13
	ExcPageFault         = 14
)

var excNames = map[uint8]string{
	ExcDivideError:       "#DE",
	ExcDebug:             "#DB",
	ExcNMI:               "NMI",
	ExcBreakpoint:        "#BP",
	ExcOverflow:          "#OF",
	ExcBoundRange:        "#BR",
	ExcInvalidOpcode:     "#UD",
	ExcDeviceNotAvail:    "#NM",
	ExcDoubleFault:       "#DF",
	ExcInvalidTSS:        "#TS",
	ExcSegmentNotPresent: "#NP",
	ExcStackFault:        "#SS",
	ExcGeneralProtection: "#GP",
	ExcPageFault:         "#PF",
}

// Exception is a synchronous condition detected during execution, consumed
// at most once by the delivery machine.
type Exception struct {
	Vector     uint8
	ErrCode    uint32
	HasErrCode bool
}

func (e Exception) name() string {
	if n, ok := excNames[e.Vector]; ok {
		return n
	}
	return fmt.Sprintf("#%d", e.Vector)
}

// IsTrap reports trap-class vectors, which deliver with the return address
// after the triggering instruction instead of at it.
func (e Exception) IsTrap() bool {
	return e.Vector == ExcDebug || e.Vector == ExcBreakpoint || e.Vector == ExcOverflow
}

func gpFault(code uint32) Exception {
	return Exception{Vector: ExcGeneralProtection, ErrCode: code, HasErrCode: true}
}

func npFault(code uint32) Exception {
	return Exception{Vector: ExcSegmentNotPresent, ErrCode: code, HasErrCode: true}
}

func ssFault(code uint32) Exception {
	return Exception{Vector: ExcStackFault, ErrCode: code, HasErrCode: true}
}

func tsFault(code uint32) Exception {
	return Exception{Vector: ExcInvalidTSS, ErrCode: code, HasErrCode: true}
}

func udFault() Exception { return Exception{Vector: ExcInvalidOpcode} }
func deFault() Exception { return Exception{Vector: ExcDivideError} }

func doubleFault() Exception {
	return Exception{Vector: ExcDoubleFault, HasErrCode: true} // error code always 0
}

// CpuFault carries an Exception through error returns inside the core. It
// never escapes ExecBlock: the glue feeds it back into delivery.
type CpuFault struct {
	Exc Exception
}

func (f *CpuFault) Error() string {
	if f.Exc.HasErrCode {
		return fmt.Sprintf("%s(0x%X)", f.Exc.name(), f.Exc.ErrCode)
	}
	return f.Exc.name()
}

func faultErr(e Exception) error { return &CpuFault{Exc: e} }

// TripleFault is returned from ExecBlock when a fault occurs while
// delivering a double fault. Real hardware resets; the embedder decides.
type TripleFault struct {
	Last Exception
}

func (t *TripleFault) Error() string {
	return fmt.Sprintf("triple fault (while delivering %s): virtual CPU shutdown", t.Last.name())
}

// busFaultException maps a bus-level failure to the architectural exception
// the guest observes. Paging is resolved behind the bus, so a residual
// MemoryFault is a protection-level problem, not a page fault.
func busFaultException(err error) Exception {
	var mf *MemoryFault
	if errors.As(err, &mf) {
		return gpFault(0)
	}
	return gpFault(0)
}

// asCpuFault extracts an architectural fault from an error chain; bare bus
// faults are translated on the way out.
func asCpuFault(err error) (Exception, bool) {
	var cf *CpuFault
	if errors.As(err, &cf) {
		return cf.Exc, true
	}
	var mf *MemoryFault
	if errors.As(err, &mf) {
		return busFaultException(err), true
	}
	return Exception{}, false
}

type excClass int

const (
	classBenign excClass = iota
	classContributory
	classPage
)

func classOf(vector uint8) excClass {
	switch vector {
	case ExcDivideError, ExcInvalidTSS, ExcSegmentNotPresent,
		ExcStackFault, ExcGeneralProtection:
		return classContributory
	case ExcPageFault:
		return classPage
	}
	return classBenign
}

// escalate decides what a fault raised while delivering another becomes:
// the new fault on its own, a double fault, or a triple fault.
func escalate(delivering, raised Exception) (Exception, bool) {
	if delivering.Vector == ExcDoubleFault {
		return Exception{}, true
	}
	dc, rc := classOf(delivering.Vector), classOf(raised.Vector)
	switch {
	case dc == classContributory && rc == classContributory:
		return doubleFault(), false
	case dc == classPage && (rc == classContributory || rc == classPage):
		return doubleFault(), false
	}
	return raised, false
}
