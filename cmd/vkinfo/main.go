// Command vkinfo brings up a headless device and prints what was picked.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/vkngwrapper/frameloop/internal/window"
	"github.com/vkngwrapper/frameloop/vkng"
)

func main() {
	validation := flag.Bool("validation", false, "enable the Khronos validation layer")
	verbose := flag.Bool("v", false, "list every device extension")
	flag.Parse()

	err := run(*validation, *verbose)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func run(validation, verbose bool) error {
	procAddr, err := window.LoadVulkan()
	if err != nil {
		return err
	}
	defer window.Quit()

	session, err := vkng.NewSession(vkng.SessionOptions{
		ApplicationName: "vkinfo",
		Target:          vkng.Headless{},
		ProcAddr:        procAddr,
		Validation:      validation,
		Logger:          slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if err != nil {
		return err
	}
	defer session.Destroy()

	info, err := session.Describe()
	if err != nil {
		return err
	}

	info.Print(os.Stdout, verbose)
	return nil
}
