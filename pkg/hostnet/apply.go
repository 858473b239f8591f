// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package hostnet

import (
	"strings"
	"sync"
	"time"

	"github.com/cni-kv/plugins/log"
)

// applyTimeout bounds the concurrent fan-out below; a wedged netlink
// call must not hold the invocation open indefinitely.
const applyTimeout = 30 * time.Second

// Apply installs every directive concurrently. Directives within one
// invocation are independent, so the fan-out keeps one indexed result
// slot per input; the returned array matches input order regardless of
// completion order.
//
// Criticality policy: a failed non-critical Neigh is logged and dropped
// (not an error); a failed critical Neigh or any failed Route is
// aggregated. If the aggregate is non-empty, Apply returns it and no
// directives are considered applied.
func Apply(directives []Directive) ([]Directive, error) {
	type slot struct {
		directive Directive
		err       error
		dropped   bool
	}
	slots := make([]slot, len(directives))

	var wg sync.WaitGroup
	for i, d := range directives {
		wg.Add(1)
		go func(i int, d Directive) {
			defer wg.Done()
			err := applyOne(d)
			if err != nil && d.Neigh != nil && !d.Neigh.IsCritical() {
				log.Printf("[hostnet] non-critical neigh %s failed, dropping: %v", d.Neigh.Address, err)
				slots[i] = slot{dropped: true}
				return
			}
			slots[i] = slot{directive: d, err: err}
		}(i, d)
	}
	waitTimeout(&wg, applyTimeout)

	var applied []Directive
	var errs []string
	for _, s := range slots {
		if s.dropped {
			continue
		}
		if s.err != nil {
			errs = append(errs, s.err.Error())
			continue
		}
		applied = append(applied, s.directive)
	}

	if len(errs) > 0 {
		return nil, &joinedError{errs: errs}
	}
	return applied, nil
}

func applyOne(d Directive) error {
	if d.Neigh != nil {
		return applyNeigh(*d.Neigh)
	}
	return applyRoute(*d.Route)
}

// Remove reverses Apply: used by DEL to release every directive, where the
// directives come from re-evaluating the expression against the current
// config (not from prevResult).
func Remove(directives []Directive) error {
	var errs []string
	for _, d := range directives {
		var err error
		if d.Neigh != nil {
			err = removeNeigh(*d.Neigh)
		} else {
			err = removeRoute(*d.Route)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return &joinedError{errs: errs}
	}
	return nil
}

// Check verifies every directive is already installed, mutating nothing.
func Check(directives []Directive) error {
	var errs []string
	for _, d := range directives {
		var err error
		if d.Neigh != nil {
			err = checkNeigh(*d.Neigh)
		} else {
			err = checkRoute(*d.Route)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return &joinedError{errs: errs}
	}
	return nil
}

type joinedError struct{ errs []string }

func (j *joinedError) Error() string { return strings.Join(j.errs, "; ") }

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}
