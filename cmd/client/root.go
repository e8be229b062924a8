package client

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/tenkv/tenkv/cmd/util"
)

var (
	ClientCmd = &cobra.Command{
		Use:     "client",
		Short:   "Connect to a tenkv server interactively",
		Long:    `Open an interactive session to a tenkv server. Each line typed is sent as a command and the server response is printed. The session ends on "exit" or EOF.`,
		PreRunE: cmdUtil.BindCommandFlags,
		RunE:    run,
	}
)

func init() {
	ClientCmd.PersistentFlags().String("endpoint", "localhost:4000", cmdUtil.WrapString("The address of the tenkv server to connect to"))
	ClientCmd.PersistentFlags().Duration("timeout", 5*time.Second, cmdUtil.WrapString("Timeout for establishing the connection"))
}

// run connects to the server and relays lines between stdin and the socket
func run(_ *cobra.Command, _ []string) error {
	endpoint := viper.GetString("endpoint")

	conn, err := net.DialTimeout("tcp", endpoint, viper.GetDuration("timeout"))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer func() { _ = conn.Close() }()

	fmt.Printf("connected to %s (type 'exit' to quit)\n", endpoint)

	stdin := bufio.NewScanner(os.Stdin)
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}

		if _, err := writer.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to send command: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("failed to send command: %w", err)
		}

		// the server closes the connection on exit without a response
		if line == "exit" {
			return nil
		}

		resp, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		fmt.Print(resp)
	}
}
