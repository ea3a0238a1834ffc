//go:build !OSAG

package version

// BuildKind stores what type of code release this is (e.g. public/osag)
const BuildKind = "public"
