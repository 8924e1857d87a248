// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package refs resolves ?{type:path} tags to refs and back.
//
// A Controller owns the ref store and the registered backends. It
// creates, persists, reveals and compiles individual refs. A Revealer
// applies a controller to whole strings, documents and directory trees,
// caching each resolved ref for its own lifetime.
//
// Tags with a function chain, such as ?{base64:app/cookie||randomstr:32},
// describe how to create a ref that does not exist yet. Creation only
// happens when compiling or writing; revealing a missing ref fails.
// There is no lock across processes: two compiles racing to create the
// same ref may both generate a value, and the first write wins.
package refs
