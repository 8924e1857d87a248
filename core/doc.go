// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core holds the concepts and pure logic of kapitan's ref domain.

It's most important to be aware of what should *not* go here:

  * if it touches the filesystem, it should not be in here.
  * if it talks to a key management service, vault or gpg, it should
    not be in here.
  * if it knows about inventories or targets, it should not be in here.

...and more generally, when adding to core, it's fine to import from any
subpackage of "github.com/kapicorp/kapitan/core" but never from any other
subpackage of "github.com/kapicorp/kapitan".
*/
package core
