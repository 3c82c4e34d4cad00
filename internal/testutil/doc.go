// Package testutil contains fakes shared by package tests: an httptest
// Mesh gateway and a scripted langchaingo model. They are not intended for
// production usage.
package testutil
