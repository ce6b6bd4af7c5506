// Package modules links every built-in module into a binary. Importing
// it (blank) runs each module package's init(), which registers its
// factory with internal/registry under the manifest name discovery
// resolves at run time.
package modules

import (
	_ "github.com/eidolon/eidolon/modules/keywordfeed"
	_ "github.com/eidolon/eidolon/modules/keywordmonitor"
	_ "github.com/eidolon/eidolon/modules/reportsink"
	_ "github.com/eidolon/eidolon/modules/webfetch"
)
