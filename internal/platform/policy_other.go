// oreon/appshell · watchthelight <wtl>

//go:build !darwin

package platform

const defaultPolicy = PolicyWindow
