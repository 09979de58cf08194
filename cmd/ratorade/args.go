package main

import (
	"errors"
	"fmt"
	"strconv"
)

var errPairArgs = errors.New("--pair takes exactly two ids")

func parseFloatArg(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}
