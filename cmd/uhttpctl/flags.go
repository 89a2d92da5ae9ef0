package main

import "flag"

type cliArgs struct {
	urlArg string

	method         string
	rawData        string
	jsonData       string
	file           string
	headers        headerFlags
	output         string
	verbose        bool
	insecure       bool
	timeoutSeconds float64

	cookieJar string
	auth      string
}

type flagSet struct {
	fs   *flag.FlagSet
	args cliArgs
}

func newFlagSet() *flagSet {
	f := &flagSet{fs: flag.NewFlagSet("uhttpctl", flag.ContinueOnError)}
	fs := f.fs

	fs.StringVar(&f.args.method, "X", "", "HTTP method (default: GET or POST if data provided)")
	fs.StringVar(&f.args.method, "method", "", "HTTP method (default: GET or POST if data provided)")
	fs.StringVar(&f.args.rawData, "d", "", "send raw data")
	fs.StringVar(&f.args.rawData, "data", "", "send raw data")
	fs.StringVar(&f.args.jsonData, "j", "", `send JSON data (string or @file.json)`)
	fs.StringVar(&f.args.jsonData, "json", "", `send JSON data (string or @file.json)`)
	fs.StringVar(&f.args.file, "f", "", "send file content as binary data")
	fs.StringVar(&f.args.file, "file", "", "send file content as binary data")
	fs.Var(&f.args.headers, "H", `add header ("Key: Value"), repeatable`)
	fs.Var(&f.args.headers, "header", `add header ("Key: Value"), repeatable`)
	fs.StringVar(&f.args.output, "o", "", "write response body to file")
	fs.StringVar(&f.args.output, "output", "", "write response body to file")
	fs.BoolVar(&f.args.verbose, "v", false, "show headers and timing info")
	fs.BoolVar(&f.args.verbose, "verbose", false, "show headers and timing info")
	fs.BoolVar(&f.args.insecure, "k", false, "skip TLS certificate verification")
	fs.BoolVar(&f.args.insecure, "insecure", false, "skip TLS certificate verification")
	fs.Float64Var(&f.args.timeoutSeconds, "t", 30, "request timeout in seconds")
	fs.Float64Var(&f.args.timeoutSeconds, "timeout", 30, "request timeout in seconds")
	fs.StringVar(&f.args.cookieJar, "c", "", "persist the cookie jar to this file across invocations")
	fs.StringVar(&f.args.cookieJar, "cookie-jar", "", "persist the cookie jar to this file across invocations")
	fs.StringVar(&f.args.auth, "A", "", "user:pass credentials for Basic/Digest auth")
	fs.StringVar(&f.args.auth, "auth", "", "user:pass credentials for Basic/Digest auth")

	return f
}

func (f *flagSet) Parse(argv []string) error {
	if err := f.fs.Parse(argv); err != nil {
		return err
	}
	if f.fs.NArg() > 0 {
		f.args.urlArg = f.fs.Arg(0)
	}
	return nil
}
