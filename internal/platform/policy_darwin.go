// oreon/appshell · watchthelight <wtl>

package platform

const defaultPolicy = PolicyApp
