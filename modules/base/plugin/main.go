// Command plugin is the base module packaged as a Go plugin:
//
//	go build -buildmode=plugin -o libbase_go.so ./modules/base/plugin
package main

import (
	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/modules/base"
)

// CreateModule is the factory the Go plugin backend looks up.
func CreateModule() module.Module {
	return base.New()
}

func main() {}
