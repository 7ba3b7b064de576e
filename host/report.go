package host

import (
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

// FaultReport describes an application-level failure that escaped every
// handler, or a diagnostic worth surfacing to the operator.
type FaultReport struct {
	Class     string   // declaring class of the faulting method
	Method    string   // method name
	Signature string   // method descriptor
	PC        int      // instruction offset at the fault
	Cause     string   // human-readable cause
	Frames    []string // frame chain, innermost first, "Class.method(desc)@pc"
}

// Reporter receives diagnostics from the runtime. Unhandled faults and
// missing natives always pass through here; everything else is invisible
// to the host.
type Reporter interface {
	ReportFault(r FaultReport)
	ReportMissingNative(class, name, desc string)
}

// LogReporter writes reports to the "sonagi.fault" logger.
type LogReporter struct {
	log commonlog.Logger
}

// NewLogReporter creates a Reporter backed by commonlog.
func NewLogReporter() *LogReporter {
	return &LogReporter{log: commonlog.GetLogger("sonagi.fault")}
}

// ReportFault logs an unhandled application fault with its frame chain.
func (r *LogReporter) ReportFault(report FaultReport) {
	r.log.Errorf("unhandled fault in %s.%s%s at pc=%d: %s",
		report.Class, report.Method, report.Signature, report.PC, report.Cause)
	if len(report.Frames) > 0 {
		r.log.Errorf("  frames: %s", strings.Join(report.Frames, " <- "))
	}
}

// ReportMissingNative logs an emulation gap.
func (r *LogReporter) ReportMissingNative(class, name, desc string) {
	r.log.Warningf("native not implemented: %s.%s%s", class, name, desc)
}

// CollectReporter retains reports in memory. Test helper.
type CollectReporter struct {
	mu             sync.Mutex
	faults         []FaultReport
	missingNatives []string
}

// NewCollectReporter creates an empty collecting reporter.
func NewCollectReporter() *CollectReporter {
	return &CollectReporter{}
}

func (r *CollectReporter) ReportFault(report FaultReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, report)
}

func (r *CollectReporter) ReportMissingNative(class, name, desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missingNatives = append(r.missingNatives, class+"."+name+desc)
}

// Faults returns a copy of collected fault reports.
func (r *CollectReporter) Faults() []FaultReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FaultReport, len(r.faults))
	copy(out, r.faults)
	return out
}

// MissingNatives returns collected missing-native signatures.
func (r *CollectReporter) MissingNatives() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.missingNatives))
	copy(out, r.missingNatives)
	return out
}
