package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/KareemHossam19/Stepwright/internal/expr"
)

// Validation message codes. E-codes are fatal; W-codes are warnings that
// strict mode promotes to errors. Codes are stable so editor integrations
// can switch on them.
const (
	// ErrSchemaVersionMissing is reported when schema_version is absent.
	ErrSchemaVersionMissing = "E001"

	// ErrSchemaVersionUnsupported is reported for a schema_version outside
	// the supported set.
	ErrSchemaVersionUnsupported = "E002"

	// ErrNameMissing is reported when the top-level name is absent.
	ErrNameMissing = "E003"

	// ErrNoSteps is reported when jobs.main.steps is absent or empty.
	ErrNoSteps = "E004"

	// ErrNoAction is reported when a step has neither run nor uses.
	ErrNoAction = "E005"

	// ErrDuplicateID is reported when two steps share an identifier.
	ErrDuplicateID = "E006"

	// ErrInvalidID is reported for identifiers that are reserved, too long,
	// or not of the form ^[A-Za-z][A-Za-z0-9_-]*$.
	ErrInvalidID = "E007"

	// ErrUnknownTarget is reported when on_failure or needs references an
	// undeclared step id.
	ErrUnknownTarget = "E008"

	// ErrUnknownStepRef is reported when a ${{ steps.X }} expression
	// references an undeclared step id.
	ErrUnknownStepRef = "E009"

	// ErrForbiddenExpr is reported when an expression contains a forbidden
	// substring (introspection or process-escape vectors).
	ErrForbiddenExpr = "E010"

	// ErrUnbalancedExpr is reported when an expression's brackets do not
	// pair up.
	ErrUnbalancedExpr = "E011"

	// ErrInvalidRetry is reported for malformed retry configuration.
	ErrInvalidRetry = "E013"

	// ErrInvalidStorage is reported for a result_storage value outside
	// {memory, file, none}.
	ErrInvalidStorage = "E014"

	// WarnBothRunAndUses is reported when a step declares both run and
	// uses; run wins.
	WarnBothRunAndUses = "W001"

	// WarnUnquotedShell is reported for a ${{ }} interpolated into a run
	// command without the shell_quote filter.
	WarnUnquotedShell = "W002"

	// WarnLargeIterations is reported when max_iterations exceeds 100000.
	WarnLargeIterations = "W003"

	// WarnInfiniteLoop is reported for loop: true without break_if.
	WarnInfiniteLoop = "W004"

	// WarnPossibleSecret is reported when a string field matches a common
	// credential pattern.
	WarnPossibleSecret = "W005"
)

// Message severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Message is a single validation finding.
type Message struct {
	Code     string
	Severity string
	Text     string
	Hint     string
	Loc      *Location
}

// String formats the message as "FILE:LINE:COL: severity CODE: text" with the
// location omitted when unknown.
func (m Message) String() string {
	var b strings.Builder
	if loc := m.Loc.String(); loc != "" {
		b.WriteString(loc)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s %s: %s", m.Severity, m.Code, m.Text)
	if m.Hint != "" {
		fmt.Fprintf(&b, " (%s)", m.Hint)
	}
	return b.String()
}

// ValidationResult holds all findings from a validation pass.
type ValidationResult struct {
	Messages []Message

	// Strict records whether warnings were promoted to errors for this run.
	Strict bool
}

// Valid reports whether the workflow may be compiled: no errors, and in
// strict mode no warnings either.
func (r *ValidationResult) Valid() bool {
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return false
		}
		if r.Strict && m.Severity == SeverityWarning {
			return false
		}
	}
	return true
}

// Errors returns the messages that make the workflow invalid under the
// result's strictness.
func (r *ValidationResult) Errors() []Message {
	var out []Message
	for _, m := range r.Messages {
		if m.Severity == SeverityError || (r.Strict && m.Severity == SeverityWarning) {
			out = append(out, m)
		}
	}
	return out
}

// String renders every message on its own line.
func (r *ValidationResult) String() string {
	var b strings.Builder
	for _, m := range r.Messages {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// stepIDPattern is the shape every explicit step identifier must match.
var stepIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// reservedIDs are names a step may never take: synthetic nodes and reserved
// state keys.
var reservedIDs = map[string]struct{}{
	NodeCleanup: {},
	NodeEnd:     {},
	"loop":      {},
	"inputs":    {},
	"env":       {},
	"steps":     {},
}

// stepRefPattern extracts the step id from a steps.X reference inside an
// expression.
var stepRefPattern = regexp.MustCompile(`\bsteps\.([A-Za-z_][A-Za-z0-9_-]*)`)

// shellQuotedPattern matches an expression whose final filter is
// shell_quote, making it safe to interpolate into a command line.
var shellQuotedPattern = regexp.MustCompile(`\|\s*shell_quote\s*$`)

// secretPatterns are the credential shapes the secret scan warns about.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token|api_key)\s*[:=]\s*['"][^'"]{8,}['"]`),
}

// Validate runs every static check against the parsed document. Checks run
// in order and all findings are collected; the caller decides whether to
// proceed via result.Valid.
func Validate(doc *Document, strict bool) *ValidationResult {
	v := &validator{doc: doc, result: &ValidationResult{Strict: strict}}
	v.run()
	return v.result
}

type validator struct {
	doc    *Document
	result *ValidationResult
}

func (v *validator) add(code, severity, text, hint string, loc *Location) {
	v.result.Messages = append(v.result.Messages, Message{
		Code:     code,
		Severity: severity,
		Text:     text,
		Hint:     hint,
		Loc:      loc,
	})
}

func (v *validator) errorf(code string, loc *Location, format string, args ...any) {
	v.add(code, SeverityError, fmt.Sprintf(format, args...), "", loc)
}

func (v *validator) warnf(code string, loc *Location, format string, args ...any) {
	v.add(code, SeverityWarning, fmt.Sprintf(format, args...), "", loc)
}

func (v *validator) run() {
	wf := v.doc.Workflow

	// -------------------------------------------------------------------
	// Check 1: schema_version
	// -------------------------------------------------------------------
	if wf.SchemaVersion == "" {
		v.add(ErrSchemaVersionMissing, SeverityError,
			"schema_version is required", `add schema_version: "1.0"`, v.doc.Locate("schema_version"))
	} else if _, ok := SupportedSchemaVersions[wf.SchemaVersion]; !ok {
		v.errorf(ErrSchemaVersionUnsupported, v.doc.Locate("schema_version"),
			"schema_version %q is not supported", wf.SchemaVersion)
	}

	// -------------------------------------------------------------------
	// Check 2: name and jobs.main.steps
	// -------------------------------------------------------------------
	if wf.Name == "" {
		v.errorf(ErrNameMissing, v.doc.Locate("name"), "workflow name is required")
	}
	steps := wf.MainSteps()
	if len(steps) == 0 {
		v.errorf(ErrNoSteps, v.doc.Locate("jobs"), "jobs.main.steps must be a non-empty sequence")
		return
	}

	// -------------------------------------------------------------------
	// Checks 3-4: action selectors and identifiers
	// -------------------------------------------------------------------
	known := make(map[string]struct{})
	v.checkSteps(steps, known, StepPath)
	v.checkSteps(wf.Finally, known, FinallyPath)

	// -------------------------------------------------------------------
	// Check 5: reference integrity
	// -------------------------------------------------------------------
	order := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID != "" {
			order[s.ID] = i
		}
	}
	for i, s := range steps {
		if s.OnFailure != "" && s.OnFailure != NodeCleanup {
			if _, ok := known[s.OnFailure]; !ok {
				v.errorf(ErrUnknownTarget, v.doc.Locate(StepPath(i, "on_failure")),
					"on_failure targets unknown step %q", s.OnFailure)
			}
		}
		for _, need := range s.Needs {
			if need == NodeCleanup {
				continue
			}
			if _, ok := known[need]; !ok {
				v.errorf(ErrUnknownTarget, v.doc.Locate(StepPath(i, "needs")),
					"needs references unknown step %q", need)
				continue
			}
			// needs only looks backwards: a later or finally step has no
			// recorded outcome yet, so the dependency could never be
			// satisfied.
			if j, ok := order[need]; !ok || j >= i {
				v.errorf(ErrUnknownTarget, v.doc.Locate(StepPath(i, "needs")),
					"needs references step %q which does not run before this step", need)
			}
		}
	}

	// -------------------------------------------------------------------
	// Checks 5 (expressions), 6, 7, 9: per-expression scans
	// -------------------------------------------------------------------
	v.scanExpressions(steps, known, StepPath)
	v.scanExpressions(wf.Finally, known, FinallyPath)

	// -------------------------------------------------------------------
	// Check 8: loop sanity
	// -------------------------------------------------------------------
	for i, s := range steps {
		if s.MaxIterations > 100_000 {
			v.warnf(WarnLargeIterations, v.doc.Locate(StepPath(i, "max_iterations")),
				"max_iterations %d is very large; consider result_storage: file", s.MaxIterations)
		}
		if s.IsInfiniteLoop() && s.BreakIf == "" {
			v.warnf(WarnInfiniteLoop, v.doc.Locate(StepPath(i, "loop")),
				"infinite loop (loop: true) has no break_if; it will only stop at max_iterations")
		}
	}

	// -------------------------------------------------------------------
	// Check 9: secret scanning over env values
	// -------------------------------------------------------------------
	for key, val := range wf.Env {
		v.scanSecrets(val, v.doc.Locate("env."+key))
	}
}

// checkSteps validates action selectors and identifiers for a step list,
// accumulating explicit ids into known.
func (v *validator) checkSteps(steps []*Step, known map[string]struct{}, path func(int, string) string) {
	for i, s := range steps {
		loc := v.doc.Locate(path(i, ""))

		// Check 3: exactly one of run / uses.
		switch {
		case s.Run == "" && s.Uses == "":
			v.errorf(ErrNoAction, loc, "step must declare either run or uses")
		case s.Run != "" && s.Uses != "":
			v.add(WarnBothRunAndUses, SeverityWarning,
				"step declares both run and uses; run takes precedence", "remove one of the two", loc)
		}

		// Check 4: identifier validity and uniqueness. Id-less steps get a
		// generated, always-valid identifier at compile time.
		if s.ID != "" {
			idLoc := v.doc.Locate(path(i, "id"))
			switch {
			case hasKey(known, s.ID):
				v.errorf(ErrDuplicateID, idLoc, "duplicate step id %q", s.ID)
			default:
				if bad := invalidIDReason(s.ID); bad != "" {
					v.errorf(ErrInvalidID, idLoc, "invalid step id %q: %s", s.ID, bad)
				} else {
					known[s.ID] = struct{}{}
				}
			}
		}

		// Retry and storage shape checks.
		if r := s.Retry; r != nil {
			if r.MaxAttempts < 1 {
				v.errorf(ErrInvalidRetry, v.doc.Locate(path(i, "retry")),
					"retry.max_attempts must be at least 1")
			}
			if r.Delay < 0 || r.MaxDelay < 0 || r.Multiplier < 0 {
				v.errorf(ErrInvalidRetry, v.doc.Locate(path(i, "retry")),
					"retry delays and multiplier must not be negative")
			}
		}
		switch s.ResultStorage {
		case "", "memory", "file", "none":
		default:
			v.errorf(ErrInvalidStorage, v.doc.Locate(path(i, "result_storage")),
				"result_storage must be one of memory, file, none; got %q", s.ResultStorage)
		}
	}
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// invalidIDReason returns a human-readable reason when id is not a legal
// step identifier, or "" when it is fine.
func invalidIDReason(id string) string {
	if _, reserved := reservedIDs[id]; reserved {
		return "name is reserved"
	}
	if strings.HasPrefix(id, "__") || strings.HasPrefix(id, "_internal_") {
		return "reserved prefix"
	}
	if len(id) > maxStepIDLength {
		return fmt.Sprintf("longer than %d characters", maxStepIDLength)
	}
	if !stepIDPattern.MatchString(id) {
		return "must start with a letter and contain only letters, digits, _ and -"
	}
	return ""
}

// scanExpressions applies the expression-level checks (forbidden substrings,
// bracket balance, steps.X references, shell quoting, secrets) to every
// string field of every step.
func (v *validator) scanExpressions(steps []*Step, known map[string]struct{}, path func(int, string) string) {
	for i, s := range steps {
		fields := map[string]string{
			"run":      s.Run,
			"if":       s.If,
			"break_if": s.BreakIf,
		}
		if loopStr, ok := s.Loop.(string); ok {
			fields["loop"] = loopStr
		}
		for field, text := range fields {
			if text == "" {
				continue
			}
			loc := v.doc.Locate(path(i, field))
			v.scanText(text, known, loc, field == "run")
		}
		for key, val := range s.With {
			if str, ok := val.(string); ok {
				v.scanText(str, known, v.doc.Locate(path(i, "with."+key)), false)
			}
		}
	}
}

// scanText checks every expression embedded in text, plus the secret scan on
// the raw text. shell reports whether text is a run command, enabling the
// shell_quote check.
func (v *validator) scanText(text string, known map[string]struct{}, loc *Location, shell bool) {
	for _, inner := range expr.Scan(text) {
		lowered := strings.ToLower(inner)
		for _, bad := range expr.ForbiddenSubstrings() {
			if strings.Contains(lowered, bad) {
				v.errorf(ErrForbiddenExpr, loc, "expression contains forbidden %q", bad)
			}
		}
		if err := expr.CheckBalance(inner); err != nil {
			v.errorf(ErrUnbalancedExpr, loc, "expression %q: %v", inner, err)
		}
		for _, ref := range stepRefPattern.FindAllStringSubmatch(inner, -1) {
			if _, ok := known[ref[1]]; !ok {
				v.errorf(ErrUnknownStepRef, loc, "expression references unknown step %q", ref[1])
			}
		}
		if shell && !shellQuotedPattern.MatchString(inner) {
			v.add(WarnUnquotedShell, SeverityWarning,
				fmt.Sprintf("interpolation %q is not shell-quoted", strings.TrimSpace(inner)),
				"append | shell_quote to avoid shell injection", loc)
		}
	}
	v.scanSecrets(text, loc)
}

func (v *validator) scanSecrets(text string, loc *Location) {
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			v.warnf(WarnPossibleSecret, loc,
				"string matches a credential pattern; move secrets to env or inputs")
			return
		}
	}
}
