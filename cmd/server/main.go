package main

import "github.com/eleven-am/vision-guide/internal/bootstrap"

func main() {
	bootstrap.RunGateway()
}
