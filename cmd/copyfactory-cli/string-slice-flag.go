package main

import "strings"

// stringSlice is a repeatable flag; unlike pflag's StringSlice it does not
// split values on commas.
type stringSlice []string

func (ss *stringSlice) String() string {
	// pflag may call the String method with a zero-valued receiver.
	if ss == nil {
		return ""
	}

	return strings.Join(*ss, " ")
}

func (ss *stringSlice) Set(value string) error {
	*ss = append(*ss, value)
	return nil
}

func (ss *stringSlice) Type() string {
	return "kind:id"
}
