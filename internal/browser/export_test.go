package browser

// NewTestFixture exposes the browser fixture to the external test package.
var NewTestFixture = newTestFixture
