// tagsweep groups cloud resources by a classification tag, finds the
// detached ones and optionally removes them.
package main

func main() {
	Execute()
}
