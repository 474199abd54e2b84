package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyflowlab/studyflow/internal/stressor"
	"github.com/studyflowlab/studyflow/internal/timeutil"
)

var (
	stressorStart    int
	stressorSubtract int
	stressorSeconds  int
	stressorRounds   int
)

var stressorCmd = &cobra.Command{
	Use:   "stressor",
	Short: "Run the serial subtraction task at the terminal",
	Long: `Runs the mental arithmetic stressor interactively: the participant
subtracts a fixed amount from a running value, under a per-answer time
limit. A wrong or late answer restarts from the initial value. Useful
for piloting the task outside a full session.`,
	RunE: runStressor,
}

func init() {
	stressorCmd.Flags().IntVar(&stressorStart, "start", stressor.DefaultStartValue, "initial value to subtract from")
	stressorCmd.Flags().IntVar(&stressorSubtract, "subtract", stressor.DefaultSubtractBy, "amount subtracted per answer")
	stressorCmd.Flags().IntVar(&stressorSeconds, "seconds", stressor.DefaultAnswerSeconds, "time limit per answer")
	stressorCmd.Flags().IntVar(&stressorRounds, "rounds", 20, "number of answers before the task ends")
	rootCmd.AddCommand(stressorCmd)
}

func runStressor(cmd *cobra.Command, args []string) error {
	player, err := buildPlayer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up audio playback: %w", err)
	}
	defer player.Stop()

	task := stressor.NewTask(stressorStart, stressorSubtract)

	// answers carries parsed input; a closed channel means stdin ended.
	answers := make(chan int)
	go func() {
		defer close(answers)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
			if err != nil {
				fmt.Println("please enter a number")
				continue
			}
			answers <- n
		}
	}()

	expired := make(chan struct{}, 1)
	countdown := stressor.NewCountdown(timeutil.Real{}, stressorSeconds, nil, func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})

	fmt.Printf("Subtract %d from %d. You have %d seconds per answer.\n",
		stressorSubtract, stressorStart, stressorSeconds)
	countdown.Start()

	for round := 0; round < stressorRounds; {
		select {
		case answer, ok := <-answers:
			if !ok {
				countdown.Stop()
				return reportScore(task)
			}
			res := task.Judge(answer)
			fmt.Println(res.StatusText)
			if res.PlayRestartCue {
				player.Beep(nil)
			}
			countdown.Reset()
			round++
		case <-expired:
			res := task.Miss()
			fmt.Println(res.StatusText)
			if res.PlayRestartCue {
				player.Beep(nil)
			}
			countdown.Reset()
			round++
		case <-cmd.Context().Done():
			countdown.Stop()
			return reportScore(task)
		}
	}
	countdown.Stop()
	time.Sleep(100 * time.Millisecond)
	return reportScore(task)
}

func reportScore(task *stressor.Task) error {
	correct, incorrect := task.Score()
	fmt.Printf("done: %d correct, %d incorrect\n", correct, incorrect)
	return nil
}
