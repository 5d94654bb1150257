// Command heliosctl is a reference client for Helios: it zips the current
// project directory, submits it to a manager, and streams the task's logs
// to the terminal until the terminal marker arrives.
package main

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/heliosrun/helios/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "heliosctl ENTRYPOINT",
	Short: "Submit the current directory to Helios and stream its logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoteRun,
}

func init() {
	rootCmd.Flags().StringP("priority", "p", "default", "Task priority (high|default)")
	rootCmd.Flags().StringP("name", "n", "", "Task name (defaults to helios-task-<directory name>)")
	rootCmd.Flags().IntP("cpu-limit", "c", 0, "CPU core limit")
	rootCmd.Flags().StringP("mem-limit", "m", "", "Memory limit, e.g. 512m, 4g")
	rootCmd.Flags().StringP("manager-url", "u", "http://localhost:8000", "Helios manager URL")
}

func runRemoteRun(cmd *cobra.Command, args []string) error {
	entrypoint := args[0]
	priority, _ := cmd.Flags().GetString("priority")
	name, _ := cmd.Flags().GetString("name")
	cpuLimit, _ := cmd.Flags().GetInt("cpu-limit")
	memLimit, _ := cmd.Flags().GetString("mem-limit")
	managerURL, _ := cmd.Flags().GetString("manager-url")

	projectPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	if name == "" {
		name = fmt.Sprintf("helios-task-%s", filepath.Base(projectPath))
	}

	fmt.Println("packaging project...")
	archive, err := zipProject(projectPath)
	if err != nil {
		return fmt.Errorf("package project: %w", err)
	}
	fmt.Printf("packaged %d bytes\n", archive.Len())

	metadata := types.Metadata{
		Entrypoint: entrypoint,
		Priority:   priority,
		Name:       name,
		Resources:  types.RawLimits{CPU: cpuLimit, Mem: memLimit},
	}

	fmt.Println("submitting task...")
	taskID, err := submitTask(managerURL, archive, metadata)
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	fmt.Printf("task submitted: %s\n", taskID)

	return streamLogs(managerURL, taskID)
}

// gitignoreMatcher loads the project's .gitignore (if any) and matches
// relative archive paths against it with gitignore-style glob semantics.
type gitignoreMatcher struct {
	patterns []string
}

func loadGitignore(projectPath string) *gitignoreMatcher {
	data, err := os.ReadFile(filepath.Join(projectPath, ".gitignore"))
	m := &gitignoreMatcher{patterns: []string{".git", "__pycache__", "*.pyc", ".DS_Store"}}
	if err != nil {
		return m
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.patterns = append(m.patterns, line)
	}
	return m
}

func (m *gitignoreMatcher) excludes(relPath string) bool {
	for _, pattern := range m.patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
		if ok, _ := doublestar.Match("**/"+pattern, relPath); ok {
			return true
		}
	}
	return false
}

func zipProject(projectPath string) (*bytes.Buffer, error) {
	matcher := loadGitignore(projectPath)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.Walk(projectPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(projectPath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if matcher.excludes(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		w, err := zw.Create(filepath.ToSlash(relPath))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

type submitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func submitTask(managerURL string, archive *bytes.Buffer, metadata types.Metadata) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	mdBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	if err := mw.WriteField("metadata", string(mdBytes)); err != nil {
		return "", err
	}

	fw, err := mw.CreateFormFile("file", "helios_project.zip")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(archive.Bytes()); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(managerURL, "/")+"/api/v1/tasks/submit", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("manager rejected submission: %s", result.Message)
	}
	return result.TaskID, nil
}

func streamLogs(managerURL, taskID string) error {
	wsURL := strings.Replace(managerURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws/logs/" + taskID

	fmt.Println("connecting to log stream...")
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to log stream: %w", err)
	}
	defer conn.Close()

	fmt.Println(strings.Repeat("=", 50))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			fmt.Println(strings.Repeat("=", 50))
			fmt.Println("log stream closed")
			return nil
		}
		line := string(message)
		switch {
		case line == types.MarkerComplete:
			fmt.Println(strings.Repeat("=", 50))
			fmt.Println("task completed")
			return nil
		case strings.HasPrefix(line, "[HELIOS_TASK_FAILED"):
			fmt.Println(strings.Repeat("=", 50))
			fmt.Printf("task failed: %s\n", line)
			return nil
		default:
			fmt.Println(line)
		}
	}
}
