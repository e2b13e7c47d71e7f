// ABOUTME: Interactive `hsadmin init` that writes a starter config file
// ABOUTME: Asks for the registry location and trusted hosts, then renders commented TOML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/hsadmin/internal/config"
)

func cmdInit(reader *bufio.Reader, w io.Writer) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	fmt.Fprintln(w, "    Interactive Setup")
	fmt.Fprintln(w, "    -----------------")
	fmt.Fprintln(w)

	configPath := config.Path()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Fprintf(w, "    Config already exists at %s\n", configPath)
		if !confirm(reader, w, "    Overwrite?") {
			fmt.Fprintln(w, "    Aborted.")
			return nil
		}
		fmt.Fprintln(w)
	}

	green.Fprint(w, "    ▶ ")
	registryPath, err := promptLine(reader, w, "Registry database", filepath.Join(config.DataDir(), "servers.db"))
	if err != nil {
		return err
	}

	green.Fprint(w, "    ▶ ")
	hostList, err := promptLine(reader, w, "Trusted hosts, comma separated (e.g. example.org, *.example.org)", "")
	if err != nil {
		return err
	}
	var hosts []string
	for _, host := range strings.Split(hostList, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}

	green.Fprint(w, "    ▶ ")
	prompt := confirm(reader, w, "Ask before contacting other hosts?")

	if err := config.Write(configPath, config.Starter(registryPath, hosts, prompt)); err != nil {
		return err
	}

	fmt.Fprintln(w)
	green.Fprintf(w, "    ✓ Config written to %s\n", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    Next steps:")
	fmt.Fprintln(w, "    1. Optionally export HSADMIN_PASSPHRASE to seal stored tokens")
	fmt.Fprintln(w, "    2. Run: hsadmin servers add")
	fmt.Fprintln(w)

	return nil
}
