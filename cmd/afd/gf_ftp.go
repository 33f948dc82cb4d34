package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/afd-core/afd/internal/dcs"
	"github.com/afd-core/afd/internal/ftpengine"
	"github.com/afd-core/afd/internal/mjm"
	"github.com/afd-core/afd/internal/session"
)

var (
	gfHostIndex   int
	gfJobIndex    int
	gfMsgPath     string
	gfDirAlias    string
	gfIncomingDir string
	gfGroups      []string
	gfRemove      bool
	gfCheckDate   bool
	gfCheckSize   bool
	gfDupCheck    bool
	gfDupTimeout  time.Duration
)

var gfFTPCommand = &cobra.Command{
	Use:   "gf-ftp",
	Short: "Retrieve a directory's new files over FTP (retriever worker)",
	RunE:  runGFFTP,
}

func init() {
	gfFTPCommand.Flags().IntVar(&gfHostIndex, "host-index", 0, "SSA host slot index")
	gfFTPCommand.Flags().IntVar(&gfJobIndex, "job-index", 0, "SSA job slot index")
	gfFTPCommand.Flags().StringVar(&gfMsgPath, "message", "", "path to the job message file naming the source host")
	gfFTPCommand.Flags().StringVar(&gfDirAlias, "dir-alias", "", "retrieve list directory alias")
	gfFTPCommand.Flags().StringVar(&gfIncomingDir, "incoming-dir", "", "local directory to land retrieved files in")
	gfFTPCommand.Flags().StringArrayVar(&gfGroups, "group", nil, "comma-separated read_file_mask group, repeatable")
	gfFTPCommand.Flags().BoolVar(&gfRemove, "remove", false, "delete remote files after a successful retrieve")
	gfFTPCommand.Flags().BoolVar(&gfCheckDate, "check-date", false, "compare MDTM before retrieving")
	gfFTPCommand.Flags().BoolVar(&gfCheckSize, "check-size", false, "compare SIZE before retrieving")
	gfFTPCommand.Flags().BoolVar(&gfDupCheck, "dup-check", false, "discard retrieved files that duplicate a recently seen checksum")
	gfFTPCommand.Flags().DurationVar(&gfDupTimeout, "dup-check-window", dcs.DupcheckMax, "how long a checksum is remembered for duplicate detection")
}

func runGFFTP(cmd *cobra.Command, args []string) error {
	entry := log.WithFields(map[string]interface{}{
		"component": "gf-ftp",
		"host_idx":  gfHostIndex,
		"job_idx":   gfJobIndex,
		"dir_alias": gfDirAlias,
	})

	msgFile, err := os.Open(gfMsgPath)
	if err != nil {
		return fmt.Errorf("gf-ftp: open message %s: %w", gfMsgPath, err)
	}
	msg, err := mjm.ReadFile(msgFile, entry)
	msgFile.Close()
	if err != nil {
		return fmt.Errorf("gf-ftp: parse message: %w", err)
	}

	cfg := loadCfgOrDefault()

	sess, err := session.Open(cfg.WorkDir, cfg.FifoDir, gfHostIndex, gfJobIndex, entry)
	if err != nil {
		return fmt.Errorf("gf-ftp: open session: %w", err)
	}
	defer sess.Close()
	sess.Msg = msg

	if err := sess.OpenRetrieveList(cfg.WorkDir, gfDirAlias, false); err != nil {
		return fmt.Errorf("gf-ftp: open retrieve list: %w", err)
	}

	host, err := sess.SSA.Host(gfHostIndex)
	if err != nil {
		return fmt.Errorf("gf-ftp: host record: %w", err)
	}

	password, _ := sess.PW.Lookup(msg.Recipient.User + "@" + msg.Recipient.Host)
	if msg.Recipient.HasPassword {
		password = msg.Recipient.Password
	}

	ctx, cancel := context.WithTimeout(context.Background(), host.TransferTimeout)
	defer cancel()

	port := 21
	if msg.Recipient.HasPort {
		port = msg.Recipient.Port
	}
	addr := net.JoinHostPort(msg.Recipient.Host, strconv.Itoa(port))
	conn, err := ftpengine.Dial(ctx, addr, host.TransferTimeout, entry)
	if err != nil {
		return fmt.Errorf("gf-ftp: dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(msg.Recipient.User, password); err != nil {
		return fmt.Errorf("gf-ftp: login: %w", err)
	}
	if err := conn.Type("I"); err != nil {
		return fmt.Errorf("gf-ftp: type: %w", err)
	}
	if msg.Recipient.Path != "" {
		if err := conn.Cwd(msg.Recipient.Path); err != nil {
			return fmt.Errorf("gf-ftp: cwd: %w", err)
		}
	}

	job := ftpengine.RetrieveJob{
		DirAlias:    gfDirAlias,
		IncomingDir: gfIncomingDir,
		Groups:      parseGroups(gfGroups),
		Remove:      gfRemove,
		CheckDate:   gfCheckDate,
		CheckSize:   gfCheckSize,
		BlockSize:   host.TransferBlockSize,
		Transfer:    host.TransferTimeout,
	}
	if gfDupCheck {
		job.IsDup = func(fullname string, size int64) (bool, error) {
			return sess.DCS.IsDup(dcs.CRC32IEEE, dcs.FileContentAndName, fullname, size, gfDupTimeout, false)
		}
	}

	result, err := conn.RunRetrievePass(ctx, job, sess.RL)
	if err != nil {
		entry.WithError(err).Warn("gf-ftp: retrieve pass failed")
		return err
	}
	entry.WithFields(map[string]interface{}{
		"listed":    result.Listed,
		"retrieved": result.Retrieved,
		"new":       len(result.NewEntries),
	}).Info("gf-ftp: retrieve pass complete")
	return nil
}

func parseGroups(raw []string) []ftpengine.FilterGroup {
	groups := make([]ftpengine.FilterGroup, 0, len(raw))
	for _, g := range raw {
		patterns := strings.Split(g, ",")
		groups = append(groups, ftpengine.FilterGroup{Patterns: patterns})
	}
	return groups
}
