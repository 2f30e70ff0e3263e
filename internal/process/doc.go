// Package process tracks the child processes buildany spawns.
//
// A Supervisor starts an exec.Cmd with its stdout and stderr attached to
// pipes and hands back a Process. Unlike exec.Cmd.Run, nothing waits on the
// child in the background: the caller drains Stdout and Stderr to EOF and
// only then calls Wait, which is the order os/exec requires when pipes are
// in use.
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.Start("cargo test", exec.Command("cargo", "test"))
//	if err != nil {
//	    return err
//	}
//	// drain proc.Stdout and proc.Stderr concurrently ...
//	if err := proc.Wait(); err != nil {
//	    return err
//	}
//	fmt.Println(proc.ExitCode())
//
// Both Supervisor and Process are safe for concurrent use.
package process
