// Package job implements request jobs and the scheme-keyed job factory.
//
// A Job produces the response for one engine request. Jobs are created,
// started, read and killed on the IO sequence; blocking work (file and socket
// reads) happens on helper goroutines whose completions are posted back to
// the IO sequence before the Delegate is notified.
//
// Built-in protocol handlers:
//   - http, https: NetworkJob over a pooled transport
//   - file: FileJob
//   - data: DataJob
//   - about: AboutJob
package job
