package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"aiclock.com/aiclock/security"
)

// Mints a relay bearer token for provisioning a new edge box.
func main() {
	deviceID := flag.String("device", "", "device id the token is issued for")
	tenant := flag.String("tenant", "", "tenant the device belongs to")
	days := flag.Int64("days", 90, "token lifetime in days")
	flag.Parse()

	if *deviceID == "" || *tenant == "" {
		flag.Usage()
		os.Exit(2)
	}

	secret := os.Getenv("AICLOCK_SIGNING_SECRET")
	if secret == "" {
		log.Fatal("AICLOCK_SIGNING_SECRET is not set")
	}

	token, err := security.CreateDeviceToken(&security.DeviceIdentity{
		DeviceID: *deviceID,
		Tenant:   *tenant,
	}, secret, *days*24*3600)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(token)
}
