/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>

*/
package main

import (
	"github.com/hyperledger/fabric-sdk-go/pkg/core/logging/modlog"
	"github.com/kfsoftware/drivenet/cmd"
	"github.com/kfsoftware/drivenet/log"
)

func main() {
	modlog.InitLogger(log.HLFLoggerProvider{})
	defer log.Sync()
	rootCMD := cmd.NewRootCMD()
	err := rootCMD.Execute()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
