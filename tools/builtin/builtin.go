// Package builtin registers Fabric's built-in utility tools with the
// tools registry as a side effect of being imported. Importing this
// package (typically as a blank import from cmd/fabric-gateway) is the
// compile-time equivalent of the original plugin directory scan: only
// tools actually linked in end up registered.
package builtin
