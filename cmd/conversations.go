package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List saved conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, directory := buildSession()
		conversations := directory.List(cmd.Context())
		if len(conversations) == 0 {
			fmt.Println(faintStyle.Render("no conversations"))
			return nil
		}
		for _, conv := range conversations {
			fmt.Println(renderConversation(conv))
		}
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := buildSession()
		session.Delete(cmd.Context(), args[0])
		fmt.Println(faintStyle.Render("deleted " + args[0]))
		return nil
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}
