// Command tuner listens to a piano, names the struck note and measures the
// inharmonicity of its string.
package main

func main() {
	Execute()
}
