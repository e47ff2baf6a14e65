package main

import (
	"encoding/json"
	"os"

	"github.com/juju/errors"
)

type creds struct {
	Token string `json:"token"`
}

// parseCreds tries to parse a JSON file with creds; example file contents:
//
//	{
//	  "token": "eyJhbGciOiJSUzUxMiIsInR5cCI6IkpXVCJ9..."
//	}
func parseCreds(filename string) (*creds, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Annotatef(err, "opening creds file %q", filename)
	}
	defer f.Close()

	d := json.NewDecoder(f)

	ret := creds{}
	if err := d.Decode(&ret); err != nil {
		return nil, errors.Annotatef(err, "parsing JSON from %q", filename)
	}

	if ret.Token == "" {
		return nil, errors.Errorf("no token in %q", filename)
	}

	return &ret, nil
}
