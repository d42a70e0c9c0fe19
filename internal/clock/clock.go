// Package clock funnels every time read in the pipeline through one
// overridable source, keeping lease deadlines and approval expiry
// deterministic in tests.
package clock

import "time"

// NowFunc supplies the current time. Tests override it to freeze or step
// lease and approval deadlines.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
