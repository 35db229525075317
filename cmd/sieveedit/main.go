// Sieveedit edits Sieve mail filtering scripts.
//
// It formats and checks script files, shows their parse tree, negates
// tests, dry-runs scripts against sample messages, manages the scripts
// stored on a ManageSieve server or in a local database, and serves an
// HTTP editing API.
//
// Usage:
//
//	# Rewrite a script in canonical form
//	sieveedit fmt -w filter.sieve
//
//	# Validate scripts against the configured extensions
//	sieveedit check --config sieveedit.toml *.sieve
//
//	# Negate a single test expression
//	sieveedit invert 'allof(header :is "from" "boss", size :over 1M)'
//
//	# See what a script does with a message
//	sieveedit simulate filter.sieve message.eml --from a@example.com --to b@example.com
//
//	# Work with stored scripts
//	sieveedit scripts list
//	sieveedit scripts put main filter.sieve --activate
//
//	# Serve the editing API
//	sieveedit serve --config sieveedit.toml
package main

func main() {
	Execute()
}
