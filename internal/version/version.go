// ABOUTME: Build and product identification
// ABOUTME: Version is overridable at link time with -ldflags
package version

// Version is set by the release build
var Version = "0.3.0"

const (
	Product      = "needle"
	Manufacturer = "harperreed"
)

// String renders "needle/0.3.0"
func String() string {
	return Product + "/" + Version
}
