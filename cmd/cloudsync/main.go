// Command cloudsync keeps local ratings and listening history in sync
// with remote JSON documents over HTTPS.
package main

func main() {
	Execute()
}
