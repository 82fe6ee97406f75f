// Package main provides the boxdrive command-line tool.
package main

func main() {
	Execute()
}
