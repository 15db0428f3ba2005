// Package core holds the application configuration, the session and
// installation model, shop domain rules and the error taxonomy shared by the
// request pipeline stages. It must not depend on the HTTP stage packages.
package core
