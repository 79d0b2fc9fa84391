// Package interpreter runs Cloudflare challenge JavaScript inside a
// sandboxed ES5 engine. The engine sees a minimal DOM shim, never the
// network, and is halted hard when a script runs past its deadline.
package interpreter

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// DefaultScriptTimeout bounds a single challenge evaluation.
const DefaultScriptTimeout = 5 * time.Second

// Engine abstracts a JavaScript runtime capable of solving challenge logic.
type Engine interface {
	// SolveChallenge evaluates a challenge page and returns the solved
	// answer formatted with 10 decimal places.
	SolveChallenge(pageHTML, host string) (string, error)

	// Execute runs raw JavaScript within the pre-built page environment
	// and returns the final expression as a string.
	Execute(script, host string) (string, error)
}

var scriptRE = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)

// Otto is the default Engine backed by the otto interpreter. A fresh VM is
// created per evaluation, so the zero value is safe for concurrent use.
type Otto struct {
	// Timeout overrides DefaultScriptTimeout when positive.
	Timeout time.Duration
}

// NewOtto creates an engine with the default script timeout.
func NewOtto() *Otto {
	return &Otto{Timeout: DefaultScriptTimeout}
}

// SolveChallenge extracts every script on the page, runs them against the
// DOM shim, and reads back the computed jschl_answer value.
func (o *Otto) SolveChallenge(pageHTML, host string) (string, error) {
	scripts := extractScripts(pageHTML)
	if len(scripts) == 0 {
		return "", fmt.Errorf("%w: no <script> tags present", types.ErrScriptNotFound)
	}

	return o.run(func(vm *otto.Otto) (string, error) {
		if _, err := vm.Run(buildPrelude(host)); err != nil {
			return "", fmt.Errorf("javascript engine error: %v", err)
		}

		executed := false
		for _, script := range scripts {
			if strings.TrimSpace(script) == "" {
				continue
			}
			executed = true
			if _, err := vm.Run(script); err != nil {
				return "", fmt.Errorf("javascript execution failed: %v", err)
			}
		}
		if !executed {
			return "", fmt.Errorf("%w: page scripts are empty", types.ErrScriptNotFound)
		}

		answer, err := vm.Run(`__state.getValue('jschl_answer');`)
		if err != nil {
			return "", fmt.Errorf("javascript execution failed: %v", err)
		}
		return formatAnswer(answer)
	})
}

// Execute runs a raw script inside the page environment for the given host.
func (o *Otto) Execute(script, host string) (string, error) {
	return o.run(func(vm *otto.Otto) (string, error) {
		if _, err := vm.Run(buildPrelude(host)); err != nil {
			return "", fmt.Errorf("javascript engine error: %v", err)
		}
		result, err := vm.Run(script)
		if err != nil {
			return "", fmt.Errorf("javascript execution failed: %v", err)
		}
		text, err := result.ToString()
		if err != nil {
			return "", fmt.Errorf("javascript engine error: %v", err)
		}
		return text, nil
	})
}

type runResult struct {
	answer string
	err    error
}

var errHalt = errors.New("halt")

// run executes eval on a fresh VM and interrupts it when the deadline
// passes. The interrupt panics inside the VM goroutine and surfaces here
// as ErrScriptTimeout.
func (o *Otto) run(eval func(vm *otto.Otto) (string, error)) (string, error) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	// The buffer keeps the interrupt send from blocking when the VM
	// finishes before it is delivered.
	interrupt := make(chan func(), 1)
	ret := make(chan runResult, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		vm := otto.New()
		vm.Interrupt = interrupt

		defer func() {
			if caught := recover(); caught != nil {
				if caught == errHalt {
					ret <- runResult{err: types.ErrScriptTimeout}
					return
				}
				panic(caught)
			}
		}()

		answer, err := eval(vm)
		ret <- runResult{answer: answer, err: err}
	}()

	for {
		select {
		case <-timer.C:
			interrupt <- func() {
				panic(errHalt)
			}
		case r := <-ret:
			return r.answer, r.err
		}
	}
}

// extractScripts returns the body of every <script> tag in order.
func extractScripts(html string) []string {
	matches := scriptRE.FindAllStringSubmatch(html, -1)
	scripts := make([]string, 0, len(matches))
	for _, m := range matches {
		scripts = append(scripts, m[1])
	}
	return scripts
}

// formatAnswer converts the VM value the way the origin expects: numeric
// answers carry exactly 10 decimal places, anything else passes through
// as a string.
func formatAnswer(value otto.Value) (string, error) {
	if value.IsUndefined() || value.IsNull() {
		return "", fmt.Errorf("javascript execution failed: jschl_answer not set by script")
	}
	if f, err := value.ToFloat(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', 10, 64), nil
	}
	text, err := value.ToString()
	if err != nil {
		return "", fmt.Errorf("javascript engine error: %v", err)
	}
	return text, nil
}
