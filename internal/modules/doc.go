// Package modules contains the self-contained application features.
//
// Each subdirectory is a module that implements the `module.Module` interface.
// Modules are listed in `internal/app/modules.go`, registered into the
// injector by `app.New` and booted onto the `/api` group by `server.New`.
package modules
